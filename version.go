package treq

// Version is reported by the health and capabilities endpoints.
const Version = "0.9.0"

// ProtocolVersion is the wire protocol revision clients negotiate against.
const ProtocolVersion = 1
