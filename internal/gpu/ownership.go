package gpu

import (
	"errors"
	"fmt"
)

// ErrOwnership is wrapped by every ownership protocol violation.
var ErrOwnership = errors.New("gpu: buffer ownership violation")

// OpKind is the half of a transfer an OwnershipOp represents.
type OpKind int

const (
	OpRelease OpKind = iota
	OpAcquire
)

func (k OpKind) String() string {
	if k == OpAcquire {
		return "acquire"
	}
	return "release"
}

// OwnershipOp is the effect a recorded barrier has on buffer ownership
// once its command buffer executes.
type OwnershipOp struct {
	Kind   OpKind
	Buffer Buffer
	From   Family
	To     Family
}

func (op OwnershipOp) String() string {
	return fmt.Sprintf("%s buffer %d %d->%d", op.Kind, op.Buffer, op.From, op.To)
}

// Ownership tracks which queue family owns a buffer and whether a
// released transfer is waiting for its acquire.
type Ownership struct {
	buffer  Buffer
	owner   Family
	pending *OwnershipOp
}

// NewOwnership starts tracking buf as owned by family.
func NewOwnership(buf Buffer, family Family) *Ownership {
	return &Ownership{buffer: buf, owner: family}
}

// Owner returns the owning family. During a transfer it is the family
// that released the buffer.
func (o *Ownership) Owner() Family { return o.owner }

// InTransit reports whether a release is waiting for its acquire.
func (o *Ownership) InTransit() bool { return o.pending != nil }

// Usable reports whether family may access the buffer now.
func (o *Ownership) Usable(family Family) bool {
	return o.pending == nil && o.owner == family
}

// Apply advances the tracker by op. Operations on other buffers are
// ignored.
func (o *Ownership) Apply(op OwnershipOp) error {
	if op.Buffer != o.buffer {
		return nil
	}
	switch op.Kind {
	case OpRelease:
		if o.pending != nil {
			return fmt.Errorf("%w: %s while %s is outstanding", ErrOwnership, op, o.pending)
		}
		if op.From != o.owner {
			return fmt.Errorf("%w: %s by non-owner, owner is %d", ErrOwnership, op, o.owner)
		}
		released := op
		o.pending = &released
	case OpAcquire:
		if o.pending == nil {
			return fmt.Errorf("%w: %s without a matching release", ErrOwnership, op)
		}
		if o.pending.From != op.From || o.pending.To != op.To {
			return fmt.Errorf("%w: %s does not match %s", ErrOwnership, op, o.pending)
		}
		o.owner = op.To
		o.pending = nil
	}
	return nil
}

// ApplyAll applies ops in order and stops at the first violation.
func (o *Ownership) ApplyAll(ops []OwnershipOp) error {
	for _, op := range ops {
		if err := o.Apply(op); err != nil {
			return err
		}
	}
	return nil
}
