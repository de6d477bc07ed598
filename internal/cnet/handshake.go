package cnet

import (
	"github.com/corvusdb/corvus/internal/cnet/proto"
	"github.com/corvusdb/corvus/internal/db"
)

// readInitPacket negotiates the protocol version and creates the primary
// session. A failure here is fatal for the connection: the error frame is
// sent and the connection stops.
func (c *Conn) readInitPacket() {
	if err := c.doReadInitPacket(); err != nil {
		c.sendError(proto.OP_SESSION_INIT, err)
		c.stop.Store(true)
	}
}

func (c *Conn) doReadInitPacket() error {
	minClientVersion, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	if minClientVersion < proto.TCP_PROTOCOL_VERSION_MIN {
		return db.NewError(db.ErrDriverVersion,
			"unsupported client version %d, minimum is %d", minClientVersion, proto.TCP_PROTOCOL_VERSION_MIN)
	}
	if minClientVersion > proto.TCP_PROTOCOL_VERSION_MAX {
		return db.NewError(db.ErrDriverVersion,
			"unsupported client version %d, maximum is %d", minClientVersion, proto.TCP_PROTOCOL_VERSION_MAX)
	}
	maxClientVersion, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	clientVersion := minClientVersion
	if maxClientVersion >= proto.TCP_PROTOCOL_VERSION_MAX {
		clientVersion = proto.TCP_PROTOCOL_VERSION_CURRENT
	}
	c.tr.SetVersion(clientVersion)
	c.clientVersion = clientVersion

	dbName, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	originalURL, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	userName, err := c.tr.ReadString()
	if err != nil {
		return err
	}

	ci := db.NewConnectionInfo(originalURL, dbName)
	ci.UserName = toUpperEnglish(userName)
	if ci.UserPasswordHash, err = c.tr.ReadBytes(); err != nil {
		return err
	}
	if ci.FilePasswordHash, err = c.tr.ReadBytes(); err != nil {
		return err
	}
	if ci.FileEncryptionKey, err = c.tr.ReadBytes(); err != nil {
		return err
	}
	n, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		key, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		value, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		ci.SetProperty(key, value)
	}

	// server settings override what the client asked for
	if c.opts.BaseDir != "" {
		ci.BaseDir = c.opts.BaseDir
	}
	if c.opts.IfExists {
		ci.SetProperty("IFEXISTS", "TRUE")
	}
	c.ci = ci

	session, err := c.createSession()
	if err != nil {
		return err
	}
	c.session = session

	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(proto.OP_SESSION_INIT)
		c.tr.WriteInt(proto.STATUS_OK)
		c.tr.WriteInt(clientVersion)
		return c.tr.Flush()
	})
}

// WriteInitPacket opens the client-side handshake.
func (c *Conn) WriteInitPacket(ci *db.ConnectionInfo) error {
	return c.withWrite(func() error {
		c.tr.WriteRequestHeader(proto.OP_SESSION_INIT)
		c.tr.WriteInt(proto.TCP_PROTOCOL_VERSION_1) // minClientVersion
		c.tr.WriteInt(proto.TCP_PROTOCOL_VERSION_1) // maxClientVersion
		c.tr.WriteString(ci.DatabaseName)
		c.tr.WriteString(ci.URL)
		c.tr.WriteString(ci.UserName)
		c.tr.WriteBytes(ci.UserPasswordHash)
		c.tr.WriteBytes(ci.FilePasswordHash)
		c.tr.WriteBytes(ci.FileEncryptionKey)
		keys := ci.Keys()
		c.tr.WriteInt(int32(len(keys)))
		for _, key := range keys {
			v, _ := ci.Property(key)
			c.tr.WriteString(key).WriteString(v)
		}
		return c.tr.Flush()
	})
}

// handleInitResponse completes version negotiation on the client and sends
// the peer our session id.
func (c *Conn) handleInitResponse() error {
	clientVersion, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	c.clientVersion = clientVersion
	c.tr.SetVersion(clientVersion)
	return c.withWrite(func() error {
		c.tr.WriteRequestHeader(proto.OP_SESSION_SET_ID)
		c.tr.WriteString(c.sessionID)
		return c.tr.Flush()
	})
}

// handleSetIDResponse records the server's auto-commit flag and fulfills the
// one-shot readiness signal.
func (c *Conn) handleSetIDResponse() error {
	autoCommit, err := c.tr.ReadBool()
	if err != nil {
		return err
	}
	c.autoCommit = autoCommit
	if c.ready != nil {
		c.readyOnce.Do(func() { close(c.ready) })
	}
	return nil
}

// readStatus consumes the status word of a response frame. STATUS_ERROR
// parses the error payload; an unknown status means the connection is
// broken.
func (c *Conn) readStatus() error {
	status, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	switch status {
	case proto.STATUS_ERROR:
		return c.ParseError()
	case proto.STATUS_CLOSED:
		c.stop.Store(true)
		return nil
	case proto.STATUS_OK, proto.STATUS_OK_STATE_CHANGED:
		return nil
	default:
		return db.NewError(db.ErrConnectionBroken, "unexpected status %d", status)
	}
}

// ParseError reconstructs the wire error packet. A CONNECTION_BROKEN code is
// the explicit reconnect-permitted signal; callers inspect Error.Code.
func (c *Conn) ParseError() error {
	sqlState, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	message, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	sql, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	code, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	trace, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	return &db.Error{
		Code:     code,
		SQLState: sqlState,
		Message:  message,
		SQL:      sql,
		Trace:    trace,
	}
}
