package tools

// Ident identifies a registered tool (the Step.action value). Kept as a
// distinct string type rather than a bare string so call sites can't
// accidentally pass an unrelated string where a tool name is expected.
type Ident string

func (i Ident) String() string { return string(i) }
