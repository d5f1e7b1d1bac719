package logger

// Standard field keys for structured logging. Use these consistently so
// log lines from the engine, the transport and the CLI aggregate under
// the same keys.
const (
	// RPC identification
	KeyOpID       = "op_id"       // operation id (hash of the function name)
	KeyOpName     = "op_name"     // registered function name
	KeyCookie     = "cookie"      // per-call correlation nonce
	KeyPeerCookie = "peer_cookie" // cookie reported by the remote frame
	KeyTag        = "tag"         // NA exchange tag

	// Peers
	KeyPeer = "peer" // peer address
	KeySelf = "self" // local endpoint address

	// Buffers and sizes
	KeyActualSize = "actual_size" // bytes reported by an NA completion
	KeyBufSize    = "buf_size"    // posted buffer size

	// Engine state
	KeyState      = "state"       // handle state-machine state
	KeyQueueDepth = "queue_depth" // completion queue depth
	KeyBacklog    = "backlog"     // processing-list occupancy
	KeyRet        = "ret"         // engine return code

	// Generic
	KeyError = "error"
)
