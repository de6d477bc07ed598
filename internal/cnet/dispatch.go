package cnet

import (
	"errors"
	"io"
	"strings"

	"github.com/corvusdb/corvus/internal/cnet/proto"
	"github.com/corvusdb/corvus/internal/db"
)

// process dispatches one whole packet. The codec is positioned right after
// the length prefix; the first payload word is the opcode header.
func (c *Conn) process() error {
	opDir, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	isRequest := proto.IsRequest(opDir)
	op := proto.Opcode(opDir)
	c.currentOp = op

	if !isRequest {
		if err := c.readStatus(); err != nil {
			return err
		}
	}

	switch op {
	case proto.OP_SESSION_INIT:
		if isRequest {
			c.readInitPacket()
			return nil
		}
		return c.handleInitResponse()

	case proto.OP_SESSION_SET_ID:
		if isRequest {
			return c.handleSetID()
		}
		return c.handleSetIDResponse()

	case proto.OP_SESSION_SET_AUTO_COMMIT:
		if !isRequest {
			return nil
		}
		v, err := c.tr.ReadBool()
		if err != nil {
			return err
		}
		c.session.SetAutoCommit(v)
		return c.writeOK(op)

	case proto.OP_SESSION_CLOSE:
		if !isRequest {
			return nil
		}
		err := c.closeSession()
		werr := c.writeOK(op)
		c.Close()
		if err != nil {
			return err
		}
		return werr

	case proto.OP_SESSION_CANCEL_STATEMENT:
		if !isRequest {
			return nil
		}
		if _, err := c.tr.ReadString(); err != nil {
			return err
		}
		id, err := c.tr.ReadInt()
		if err != nil {
			return err
		}
		obj, _ := c.cache.getObject(id, true)
		if stmt, ok := obj.(db.PreparedStatement); ok {
			stmt.Cancel()
			_ = stmt.Close()
			c.cache.freeObject(id)
		}
		return c.writeOK(op)

	case proto.OP_COMMAND_PREPARE, proto.OP_COMMAND_PREPARE_READ_PARAMS:
		if isRequest {
			return c.handlePrepare(op)
		}
		return c.handleCallbackResponse()

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_QUERY, proto.OP_COMMAND_QUERY:
		if isRequest {
			if op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_QUERY {
				c.session.SetAutoCommit(false)
				c.session.SetRoot(false)
			}
			return c.handleQuery(op)
		}
		return c.handleCallbackResponse()

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_QUERY, proto.OP_COMMAND_PREPARED_QUERY:
		if isRequest {
			if op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_QUERY {
				c.session.SetAutoCommit(false)
				c.session.SetRoot(false)
			}
			return c.handlePreparedQuery(op)
		}
		return c.handleCallbackResponse()

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_UPDATE, proto.OP_COMMAND_UPDATE,
		proto.OP_COMMAND_REPLICATION_UPDATE:
		if isRequest {
			if op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_UPDATE {
				c.session.SetAutoCommit(false)
				c.session.SetRoot(false)
			}
			return c.handleUpdate(op)
		}
		return c.handleUpdateResponse(op)

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_UPDATE, proto.OP_COMMAND_PREPARED_UPDATE,
		proto.OP_COMMAND_REPLICATION_PREPARED_UPDATE:
		if isRequest {
			if op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_UPDATE {
				c.session.SetAutoCommit(false)
				c.session.SetRoot(false)
			}
			return c.handlePreparedUpdate(op)
		}
		return c.handleUpdateResponse(op)

	case proto.OP_COMMAND_STORAGE_DISTRIBUTED_PUT, proto.OP_COMMAND_STORAGE_PUT,
		proto.OP_COMMAND_STORAGE_REPLICATION_PUT:
		if !isRequest {
			return nil
		}
		if op == proto.OP_COMMAND_STORAGE_DISTRIBUTED_PUT {
			c.session.SetAutoCommit(false)
			c.session.SetRoot(false)
		}
		return c.handleStoragePut(op)

	case proto.OP_COMMAND_STORAGE_DISTRIBUTED_GET, proto.OP_COMMAND_STORAGE_GET:
		if !isRequest {
			return nil
		}
		if op == proto.OP_COMMAND_STORAGE_DISTRIBUTED_GET {
			c.session.SetAutoCommit(false)
			c.session.SetRoot(false)
		}
		return c.handleStorageGet(op)

	case proto.OP_COMMAND_STORAGE_MOVE_LEAF_PAGE:
		if !isRequest {
			return nil
		}
		return c.handleMoveLeafPage(op)

	case proto.OP_COMMAND_STORAGE_REMOVE_LEAF_PAGE:
		if !isRequest {
			return nil
		}
		return c.handleRemoveLeafPage(op)

	case proto.OP_COMMAND_GET_META_DATA:
		if isRequest {
			return c.handleGetMetaData(op)
		}
		return c.handleCallbackResponse()

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_COMMIT:
		if !isRequest {
			return nil
		}
		old := c.session.GetModificationID()
		names, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		if err := c.session.Commit(false, names); err != nil {
			return err
		}
		return c.writeStatusOnly(op, c.session, old)

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_ROLLBACK:
		if !isRequest {
			return nil
		}
		old := c.session.GetModificationID()
		if err := c.session.Rollback(); err != nil {
			return err
		}
		return c.writeStatusOnly(op, c.session, old)

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_ADD_SAVEPOINT,
		proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_ROLLBACK_SAVEPOINT:
		if !isRequest {
			return nil
		}
		old := c.session.GetModificationID()
		name, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		if op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_ADD_SAVEPOINT {
			err = c.session.AddSavepoint(name)
		} else {
			err = c.session.RollbackToSavepoint(name)
		}
		if err != nil {
			return err
		}
		return c.writeStatusOnly(op, c.session, old)

	case proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_VALIDATE:
		if !isRequest {
			return nil
		}
		old := c.session.GetModificationID()
		name, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		valid, err := c.session.ValidateTransaction(name)
		if err != nil {
			return err
		}
		return c.withWrite(func() error {
			c.tr.WriteResponseHeader(op)
			c.tr.WriteInt(c.status(c.session, old))
			c.tr.WriteBool(valid)
			return c.tr.Flush()
		})

	case proto.OP_COMMAND_BATCH_STATEMENT_UPDATE:
		if !isRequest {
			return nil
		}
		return c.handleBatchUpdate(op)

	case proto.OP_COMMAND_BATCH_STATEMENT_PREPARED_UPDATE:
		if !isRequest {
			return nil
		}
		return c.handleBatchPreparedUpdate(op)

	case proto.OP_COMMAND_CLOSE:
		if !isRequest {
			return nil
		}
		id, err := c.tr.ReadInt()
		if err != nil {
			return err
		}
		obj, _ := c.cache.getObject(id, true)
		if stmt, ok := obj.(db.PreparedStatement); ok {
			_ = stmt.Close()
			c.cache.freeObject(id)
		}
		return c.writeOK(op)

	case proto.OP_COMMAND_READ_LOB:
		if !isRequest {
			return nil
		}
		return c.handleReadLob(op)

	case proto.OP_RESULT_FETCH_ROWS:
		if !isRequest {
			return nil
		}
		return c.handleFetchRows(op)

	case proto.OP_RESULT_RESET:
		if !isRequest {
			return nil
		}
		id, err := c.tr.ReadInt()
		if err != nil {
			return err
		}
		obj, err := c.cache.getObject(id, false)
		if err != nil {
			return err
		}
		obj.(db.Result).Reset()
		return c.writeOK(op)

	case proto.OP_RESULT_CHANGE_ID:
		if !isRequest {
			return nil
		}
		oldID, err := c.tr.ReadInt()
		if err != nil {
			return err
		}
		newID, err := c.tr.ReadInt()
		if err != nil {
			return err
		}
		obj, err := c.cache.getObject(oldID, false)
		if err != nil {
			return err
		}
		c.cache.freeObject(oldID)
		c.cache.addObject(newID, obj)
		return c.writeOK(op)

	case proto.OP_RESULT_CLOSE:
		if !isRequest {
			return nil
		}
		id, err := c.tr.ReadInt()
		if err != nil {
			return err
		}
		obj, _ := c.cache.getObject(id, true)
		if result, ok := obj.(db.Result); ok {
			_ = result.Close()
			c.cache.freeObject(id)
		}
		return c.writeOK(op)

	default:
		// protocol violation
		_ = c.closeSession()
		c.Close()
		return nil
	}
}

func (c *Conn) handleSetID() error {
	id, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	c.sessionID = id
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(proto.OP_SESSION_SET_ID)
		c.tr.WriteInt(proto.STATUS_OK)
		c.tr.WriteBool(c.session.IsAutoCommit())
		return c.tr.Flush()
	})
}

func (c *Conn) handlePrepare(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	connectionID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	session, err := c.getOrCreateSession(connectionID)
	if err != nil {
		return err
	}
	sql, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	old := session.GetModificationID()
	stmt, err := session.PrepareStatement(sql, -1)
	if err != nil {
		return err
	}
	stmt.SetConnectionID(connectionID)
	c.cache.addObject(id, stmt)
	isQuery := stmt.IsQuery()
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(c.status(session, old)).WriteInt(id).WriteBool(isQuery)
		if op == proto.OP_COMMAND_PREPARE_READ_PARAMS {
			params := stmt.GetParameters()
			c.tr.WriteInt(int32(len(params)))
			for _, p := range params {
				c.writeParameterMetaData(p)
			}
		}
		return c.tr.Flush()
	})
}

func (c *Conn) handleQuery(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	connectionID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	session, err := c.getOrCreateSession(connectionID)
	if err != nil {
		return err
	}
	sql, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	objectID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	maxRows, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	fetchSize, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	old := session.GetModificationID()
	stmt, err := session.PrepareStatement(sql, int(fetchSize))
	if err != nil {
		return err
	}
	stmt.SetConnectionID(connectionID)
	c.cache.addObject(id, stmt)
	c.executeQuery(session, id, stmt, op, objectID, int(maxRows), int(fetchSize), old)
	return nil
}

func (c *Conn) handlePreparedQuery(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	connectionID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	session, err := c.getOrCreateSession(connectionID)
	if err != nil {
		return err
	}
	objectID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	maxRows, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	fetchSize, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	obj, err := c.cache.getObject(id, false)
	if err != nil {
		return err
	}
	stmt := obj.(db.PreparedStatement)
	stmt.SetFetchSize(int(fetchSize))
	if err := c.setParameters(stmt); err != nil {
		return err
	}
	old := session.GetModificationID()
	c.executeQuery(session, id, stmt, op, objectID, int(maxRows), int(fetchSize), old)
	return nil
}

func (c *Conn) executeQuery(session db.Session, id int32, stmt db.PreparedStatement,
	op, objectID int32, maxRows, fetchSize int, old int64) {
	distributed := op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_QUERY ||
		op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_QUERY
	c.enqueue(NewPreparedCommand(op, stmt, session, func() error {
		result, err := stmt.Query(maxRows, false)
		if err != nil {
			return err
		}
		c.cache.addObject(objectID, result)
		return c.withWrite(func() error {
			c.tr.WriteResponseHeader(op)
			c.tr.WriteInt(c.status(session, old)).WriteInt(id)
			if distributed {
				c.tr.WriteString(session.GetTransaction().LocalTransactionNames())
			}
			columnCount := result.VisibleColumnCount()
			c.tr.WriteInt(int32(columnCount))
			rowCount := result.RowCount()
			c.tr.WriteInt(int32(rowCount))
			for i := 0; i < columnCount; i++ {
				c.writeColumn(result, i)
			}
			fetch := fetchSize
			if rowCount != -1 && rowCount < fetch {
				fetch = rowCount
			}
			if err := c.writeRow(result, fetch); err != nil {
				// the frame is terminated; ship it, then the error frame
				_ = c.tr.Flush()
				return err
			}
			return c.tr.Flush()
		})
	}))
}

func (c *Conn) handleUpdate(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	connectionID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	session, err := c.getOrCreateSession(connectionID)
	if err != nil {
		return err
	}
	sql, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	old := session.GetModificationID()
	if op == proto.OP_COMMAND_REPLICATION_UPDATE {
		name, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		session.SetReplicationName(name)
	}
	stmt, err := session.PrepareStatement(sql, -1)
	if err != nil {
		return err
	}
	stmt.SetConnectionID(connectionID)
	c.cache.addObject(id, stmt)
	c.executeUpdate(session, id, stmt, op, old)
	return nil
}

func (c *Conn) handlePreparedUpdate(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	connectionID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	session, err := c.getOrCreateSession(connectionID)
	if err != nil {
		return err
	}
	if op == proto.OP_COMMAND_REPLICATION_PREPARED_UPDATE {
		name, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		session.SetReplicationName(name)
	}
	obj, err := c.cache.getObject(id, false)
	if err != nil {
		return err
	}
	stmt := obj.(db.PreparedStatement)
	if err := c.setParameters(stmt); err != nil {
		return err
	}
	old := session.GetModificationID()
	c.executeUpdate(session, id, stmt, op, old)
	return nil
}

func (c *Conn) executeUpdate(session db.Session, id int32, stmt db.PreparedStatement, op int32, old int64) {
	distributed := op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_UPDATE ||
		op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_UPDATE
	c.enqueue(NewPreparedCommand(op, stmt, session, func() error {
		updateCount, err := stmt.Update()
		if err != nil {
			return err
		}
		return c.withWrite(func() error {
			c.tr.WriteResponseHeader(op)
			c.tr.WriteInt(c.status(session, old)).WriteInt(id)
			if distributed {
				c.tr.WriteString(session.GetTransaction().LocalTransactionNames())
			}
			c.tr.WriteInt(updateCount)
			return c.tr.Flush()
		})
	}))
}

func (c *Conn) handleUpdateResponse(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	if op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_UPDATE ||
		op == proto.OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_UPDATE {
		names, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		if c.session != nil {
			c.session.GetTransaction().AddLocalTransactionNames(names)
		}
	}
	return c.runCallback(id)
}

// handleCallbackResponse is the generic client-side response path: the next
// field is the request id, the rest of the payload belongs to the callback.
func (c *Conn) handleCallbackResponse() error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	return c.runCallback(id)
}

func (c *Conn) handleStoragePut(op int32) error {
	mapName, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	key, err := c.tr.ReadBytes()
	if err != nil {
		return err
	}
	value, err := c.tr.ReadBytes()
	if err != nil {
		return err
	}
	old := c.session.GetModificationID()
	if op == proto.OP_COMMAND_STORAGE_REPLICATION_PUT {
		name, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		c.session.SetReplicationName(name)
	}
	m, err := c.session.GetStorageMap(mapName)
	if err != nil {
		return err
	}
	k, err := m.KeyType().Read(key)
	if err != nil {
		return err
	}
	v, err := m.ValueType().Read(value)
	if err != nil {
		return err
	}
	result, err := m.Put(k, v)
	if err != nil {
		return err
	}
	buf, err := m.ValueType().Write(result)
	if err != nil {
		return err
	}
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(c.status(c.session, old))
		if op == proto.OP_COMMAND_STORAGE_DISTRIBUTED_PUT {
			c.tr.WriteString(c.session.GetTransaction().LocalTransactionNames())
		}
		c.tr.WriteByteBuffer(buf)
		return c.tr.Flush()
	})
}

func (c *Conn) handleStorageGet(op int32) error {
	mapName, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	key, err := c.tr.ReadBytes()
	if err != nil {
		return err
	}
	old := c.session.GetModificationID()
	m, err := c.session.GetStorageMap(mapName)
	if err != nil {
		return err
	}
	k, err := m.KeyType().Read(key)
	if err != nil {
		return err
	}
	result, err := m.Get(k)
	if err != nil {
		return err
	}
	buf, err := m.ValueType().Write(result)
	if err != nil {
		return err
	}
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(c.status(c.session, old))
		if op == proto.OP_COMMAND_STORAGE_DISTRIBUTED_GET {
			c.tr.WriteString(c.session.GetTransaction().LocalTransactionNames())
		}
		c.tr.WriteByteBuffer(buf)
		return c.tr.Flush()
	})
}

func (c *Conn) handleMoveLeafPage(op int32) error {
	mapName, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	splitKey, err := c.tr.ReadByteBuffer()
	if err != nil {
		return err
	}
	page, err := c.tr.ReadByteBuffer()
	if err != nil {
		return err
	}
	old := c.session.GetModificationID()
	m, err := c.session.GetStorageMap(mapName)
	if err != nil {
		return err
	}
	if r, ok := m.(db.Replication); ok {
		if err := r.AddLeafPage(splitKey, page); err != nil {
			return err
		}
	}
	return c.writeStatusOnly(op, c.session, old)
}

func (c *Conn) handleRemoveLeafPage(op int32) error {
	mapName, err := c.tr.ReadString()
	if err != nil {
		return err
	}
	key, err := c.tr.ReadByteBuffer()
	if err != nil {
		return err
	}
	old := c.session.GetModificationID()
	m, err := c.session.GetStorageMap(mapName)
	if err != nil {
		return err
	}
	if r, ok := m.(db.Replication); ok {
		if err := r.RemoveLeafPage(key); err != nil {
			return err
		}
	}
	return c.writeStatusOnly(op, c.session, old)
}

func (c *Conn) handleGetMetaData(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	objectID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	obj, err := c.cache.getObject(id, false)
	if err != nil {
		return err
	}
	stmt := obj.(db.PreparedStatement)
	result, err := stmt.GetMetaData()
	if err != nil {
		return err
	}
	c.cache.addObject(objectID, result)
	columnCount := result.VisibleColumnCount()
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(proto.STATUS_OK).WriteInt(id).WriteInt(int32(columnCount)).WriteInt(0)
		for i := 0; i < columnCount; i++ {
			c.writeColumn(result, i)
		}
		return c.tr.Flush()
	})
}

func (c *Conn) handleBatchUpdate(op int32) error {
	size, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	results := make([]int32, size)
	old := c.session.GetModificationID()
	for i := int32(0); i < size; i++ {
		sql, err := c.tr.ReadString()
		if err != nil {
			return err
		}
		results[i] = c.batchUpdateOne(c.session, sql)
	}
	return c.writeBatchResult(op, c.session, results, old)
}

func (c *Conn) batchUpdateOne(session db.Session, sql string) int32 {
	stmt, err := session.PrepareStatement(sql, -1)
	if err != nil {
		return proto.EXECUTE_FAILED
	}
	count, err := stmt.Update()
	if err != nil {
		return proto.EXECUTE_FAILED
	}
	return count
}

func (c *Conn) handleBatchPreparedUpdate(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	connectionID, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	session, err := c.getOrCreateSession(connectionID)
	if err != nil {
		return err
	}
	size, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	obj, err := c.cache.getObject(id, false)
	if err != nil {
		return err
	}
	stmt := obj.(db.PreparedStatement)
	params := stmt.GetParameters()
	results := make([]int32, size)
	old := session.GetModificationID()
	for i := int32(0); i < size; i++ {
		bindFailed := false
		for _, p := range params {
			v, err := c.tr.ReadValue()
			if err != nil {
				return err
			}
			if err := p.SetValue(v); err != nil {
				bindFailed = true
			}
		}
		if bindFailed {
			results[i] = proto.EXECUTE_FAILED
			continue
		}
		count, err := stmt.Update()
		if err != nil {
			results[i] = proto.EXECUTE_FAILED
			continue
		}
		results[i] = count
	}
	return c.writeBatchResult(op, session, results, old)
}

func (c *Conn) handleFetchRows(op int32) error {
	id, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	count, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	obj, err := c.cache.getObject(id, false)
	if err != nil {
		return err
	}
	result := obj.(db.Result)
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(proto.STATUS_OK)
		if err := c.writeRow(result, int(count)); err != nil {
			_ = c.tr.Flush()
			return err
		}
		return c.tr.Flush()
	})
}

func (c *Conn) handleReadLob(op int32) error {
	if c.lobs == nil {
		size := c.opts.CachedObjects
		if floor := 5 * c.opts.ResultSetFetchSize; floor > size {
			size = floor
		}
		lobs, err := newLobCache(size)
		if err != nil {
			return err
		}
		c.lobs = lobs
	}
	lobID, err := c.tr.ReadLong()
	if err != nil {
		return err
	}
	mac, err := c.tr.ReadBytes()
	if err != nil {
		return err
	}
	offset, err := c.tr.ReadLong()
	if err != nil {
		return err
	}
	length, err := c.tr.ReadInt()
	if err != nil {
		return err
	}
	if err := c.tr.VerifyLobMac(mac, lobID); err != nil {
		return err
	}
	in, ok := c.lobs.Get(lobID)
	if !ok || in.pos != offset {
		if ok {
			_ = in.Close()
			c.lobs.Remove(lobID)
		}
		stream, err := c.session.GetLobStorage().GetInputStream(lobID, mac, -1)
		if err != nil {
			return err
		}
		in = newCachedInputStream(stream)
		c.lobs.Add(lobID, in)
		if offset > 0 {
			if err := in.skip(offset); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
		}
	}
	if max := int32(16 * c.opts.IOBufferSize); length > max {
		length = max
	}
	if length < 0 {
		length = 0
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(in, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return c.withWrite(func() error {
		c.tr.WriteResponseHeader(op)
		c.tr.WriteInt(proto.STATUS_OK)
		c.tr.WriteInt(int32(n))
		c.tr.writeFixed(buf[:n])
		return c.tr.Flush()
	})
}

func toUpperEnglish(s string) string {
	return strings.ToUpper(s)
}
