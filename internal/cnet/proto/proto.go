package proto

// Wire opcodes. The numeric values are part of the protocol ABI: the low bit
// of the header word distinguishes request (0) from response (1), the upper
// bits carry the opcode.
const (
	OP_SESSION_INIT int32 = iota
	OP_SESSION_SET_ID
	OP_SESSION_SET_AUTO_COMMIT
	OP_SESSION_CLOSE
	OP_SESSION_CANCEL_STATEMENT

	OP_COMMAND_PREPARE
	OP_COMMAND_PREPARE_READ_PARAMS
	OP_COMMAND_QUERY
	OP_COMMAND_PREPARED_QUERY
	OP_COMMAND_UPDATE
	OP_COMMAND_PREPARED_UPDATE
	OP_COMMAND_REPLICATION_UPDATE
	OP_COMMAND_REPLICATION_PREPARED_UPDATE

	OP_COMMAND_DISTRIBUTED_TRANSACTION_QUERY
	OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_QUERY
	OP_COMMAND_DISTRIBUTED_TRANSACTION_UPDATE
	OP_COMMAND_DISTRIBUTED_TRANSACTION_PREPARED_UPDATE
	OP_COMMAND_DISTRIBUTED_TRANSACTION_COMMIT
	OP_COMMAND_DISTRIBUTED_TRANSACTION_ROLLBACK
	OP_COMMAND_DISTRIBUTED_TRANSACTION_ADD_SAVEPOINT
	OP_COMMAND_DISTRIBUTED_TRANSACTION_ROLLBACK_SAVEPOINT
	OP_COMMAND_DISTRIBUTED_TRANSACTION_VALIDATE

	OP_COMMAND_STORAGE_PUT
	OP_COMMAND_STORAGE_GET
	OP_COMMAND_STORAGE_REPLICATION_PUT
	OP_COMMAND_STORAGE_DISTRIBUTED_PUT
	OP_COMMAND_STORAGE_DISTRIBUTED_GET
	OP_COMMAND_STORAGE_MOVE_LEAF_PAGE
	OP_COMMAND_STORAGE_REMOVE_LEAF_PAGE

	OP_COMMAND_GET_META_DATA
	OP_COMMAND_BATCH_STATEMENT_UPDATE
	OP_COMMAND_BATCH_STATEMENT_PREPARED_UPDATE
	OP_COMMAND_CLOSE
	OP_COMMAND_READ_LOB

	OP_RESULT_FETCH_ROWS
	OP_RESULT_RESET
	OP_RESULT_CHANGE_ID
	OP_RESULT_CLOSE

	// OP_ERROR marks an error frame emitted before the request opcode could
	// be decoded. Regular mid-request failures reuse the request's opcode.
	OP_ERROR
)

// Response status word, the first field of every response payload after the
// header. Values are contractual.
const (
	STATUS_OK               int32 = 1
	STATUS_ERROR            int32 = 2
	STATUS_CLOSED           int32 = 3
	STATUS_OK_STATE_CHANGED int32 = 4
)

// EXECUTE_FAILED is the per-item sentinel for failed batch updates.
const EXECUTE_FAILED int32 = -3

// Protocol version negotiation bounds.
const (
	TCP_PROTOCOL_VERSION_1       int32 = 1
	TCP_PROTOCOL_VERSION_MIN     int32 = 1
	TCP_PROTOCOL_VERSION_MAX     int32 = 2
	TCP_PROTOCOL_VERSION_CURRENT int32 = 2
)

// IsRequest reports whether a header word carries a request frame.
func IsRequest(opDir int32) bool {
	return opDir&1 == 0
}

// Opcode extracts the opcode from a header word.
func Opcode(opDir int32) int32 {
	return opDir >> 1
}

// RequestHeader encodes an opcode as a request header word.
func RequestHeader(op int32) int32 {
	return op << 1
}

// ResponseHeader encodes an opcode as a response header word.
func ResponseHeader(op int32) int32 {
	return op<<1 | 1
}
