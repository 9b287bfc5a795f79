package pipeline

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Describe renders ops as "name(type:value,...)|..." in order. The type is
// part of each argument so that 90 and 90.0 do not collide.
func Describe(ops []Operation) string {
	var b strings.Builder
	for i, op := range ops {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(op.Name())
		b.WriteByte('(')
		for j, arg := range op.Arguments() {
			if j > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%T:%v", arg, arg)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Signature returns a stable hex key for the chain as declared. It is
// meant to be computed before Build: injected prerequisites depend only on
// the source image, so a signature is only meaningful next to the hash of
// the file it was applied to.
func (s *Stack) Signature() string {
	sum := blake3.Sum256([]byte(Describe(s.Operations())))
	return hex.EncodeToString(sum[:])
}
