package domain

// AccountMeta references an account an instruction touches.
type AccountMeta struct {
	Key      string
	Signer   bool
	Writable bool
}

// Instruction is the encoded form of a step, opaque to the core.
type Instruction struct {
	Program  string
	Accounts []AccountMeta
	Data     []byte
}
