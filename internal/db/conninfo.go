package db

import "sort"

// ConnectionInfo is the bag of parameters a session is created from: URL,
// database name, user, credential material and free-form properties.
type ConnectionInfo struct {
	URL          string
	DatabaseName string
	UserName     string

	UserPasswordHash  []byte
	FilePasswordHash  []byte
	FileEncryptionKey []byte

	BaseDir string

	props map[string]string
}

func NewConnectionInfo(url, dbName string) *ConnectionInfo {
	return &ConnectionInfo{
		URL:          url,
		DatabaseName: dbName,
		props:        make(map[string]string),
	}
}

// SetProperty stores a property. Duplicate names are tolerated; the last
// write wins, which matches what lenient client drivers send.
func (ci *ConnectionInfo) SetProperty(key, value string) {
	if ci.props == nil {
		ci.props = make(map[string]string)
	}
	ci.props[key] = value
}

func (ci *ConnectionInfo) Property(key string) (string, bool) {
	v, ok := ci.props[key]
	return v, ok
}

// Keys returns the property names in a stable order.
func (ci *ConnectionInfo) Keys() []string {
	keys := make([]string, 0, len(ci.props))
	for k := range ci.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
