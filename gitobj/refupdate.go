package gitobj

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// RefCommand is one requested ref change from a receive-pack command line:
// oldOid/newOid ZeroOID mean create/delete respectively.
type RefCommand struct {
	Name   string
	OldOID OID
	NewOID OID
}

// RefResult is the per-command outcome reported back on the wire.
type RefResult struct {
	Name   string
	OK     bool
	Reason string // empty when OK
}

const (
	reasonOldOIDMismatch = "ref update rejected: old OID mismatch"
	reasonRefNotExist    = "ref doesn't exist"
	reasonRefExists      = "ref already exists"
	reasonNonFastForward = "non-fast-forward update rejected"
	reasonAtomicFailed   = "atomic transaction failed"
)

// ApplyRefUpdates validates every command, then — if atomic and any command
// failed validation — marks every validated-ok command failed with
// reasonAtomicFailed (commands that failed validation keep their own
// reason) and applies nothing; otherwise writes or deletes each validated-ok ref,
// flipping any store-level failure to "failed to update: <msg>".
func (r *Repository) ApplyRefUpdates(commands []RefCommand, atomic bool) ([]RefResult, error) {
	results := make([]RefResult, len(commands))
	for i, cmd := range commands {
		results[i] = r.validateRefCommand(cmd)
	}

	anyFailed := false
	for _, res := range results {
		if !res.OK {
			anyFailed = true
			break
		}
	}
	if atomic && anyFailed {
		for i := range results {
			if results[i].OK {
				results[i].OK = false
				results[i].Reason = reasonAtomicFailed
			}
		}
		return results, nil
	}

	for i, cmd := range commands {
		if !results[i].OK {
			continue
		}
		if err := r.applyOneRefCommand(cmd); err != nil {
			results[i].OK = false
			results[i].Reason = "failed to update: " + err.Error()
		}
	}
	return results, nil
}

func (r *Repository) validateRefCommand(cmd RefCommand) RefResult {
	res := RefResult{Name: cmd.Name}
	refName := plumbing.ReferenceName(cmd.Name)
	current, err := r.adapter.Reference(refName)
	currentExists := err == nil
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		res.Reason = "failed to update: " + err.Error()
		return res
	}
	if !IsZero(cmd.NewOID) {
		if err := r.adapter.HasEncodedObject(cmd.NewOID); err != nil {
			res.Reason = "failed to update: " + err.Error()
			return res
		}
	}

	switch {
	case IsZero(cmd.OldOID) && !IsZero(cmd.NewOID): // create
		if currentExists {
			res.Reason = reasonRefExists
			return res
		}
		res.OK = true

	case !IsZero(cmd.OldOID) && IsZero(cmd.NewOID): // delete
		if !currentExists {
			res.Reason = reasonRefNotExist
			return res
		}
		if current.Hash() != cmd.OldOID {
			res.Reason = reasonOldOIDMismatch
			return res
		}
		res.OK = true

	default: // update
		if !currentExists {
			res.Reason = reasonRefNotExist
			return res
		}
		if current.Hash() != cmd.OldOID {
			res.Reason = reasonOldOIDMismatch
			return res
		}
		if !r.IsDescendant(cmd.NewOID, current.Hash()) {
			res.Reason = reasonNonFastForward
			return res
		}
		res.OK = true
	}
	return res
}

func (r *Repository) applyOneRefCommand(cmd RefCommand) error {
	refName := plumbing.ReferenceName(cmd.Name)
	if IsZero(cmd.NewOID) {
		return r.adapter.RemoveReference(refName)
	}
	ref := plumbing.NewHashReference(refName, cmd.NewOID)
	return r.adapter.SetReference(ref)
}
