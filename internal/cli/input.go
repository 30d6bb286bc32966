package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/store"
	"github.com/roach88/objidx/internal/types"
)

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// loadFilter decodes the filter in path. An empty path means no filter.
func loadFilter(path string, stdin io.Reader) (filter.ObjectFilter, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readInput(path, stdin)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read filter", err)
	}
	f, err := filter.Parse(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid filter", err)
	}
	return f, nil
}

// parseCursor parses an optional object id cursor.
func parseCursor(s string) (*types.ObjectID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := types.ParseAddress(s)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid cursor", err)
	}
	return &id, nil
}

// ObjectView is the output shape of one object record.
type ObjectView struct {
	ObjectID     string  `json:"object_id"`
	Version      uint64  `json:"version"`
	Digest       string  `json:"digest"`
	Checkpoint   uint64  `json:"checkpoint"`
	OwnerType    string  `json:"owner_type,omitempty"`
	Owner        string  `json:"owner,omitempty"`
	OldOwnerType string  `json:"old_owner_type,omitempty"`
	OldOwner     string  `json:"old_owner,omitempty"`
	ObjectType   string  `json:"object_type,omitempty"`
	Status       string  `json:"status"`
	CoinType     string  `json:"coin_type,omitempty"`
	CoinBalance  *uint64 `json:"coin_balance,omitempty"`
	BCS          string  `json:"bcs,omitempty"`
}

func viewObject(r store.ObjectRecord) ObjectView {
	v := ObjectView{
		ObjectID:     r.ObjectID.String(),
		Version:      r.Version,
		Digest:       r.Digest,
		Checkpoint:   r.Checkpoint,
		OwnerType:    string(r.OwnerType),
		OldOwnerType: string(r.OldOwnerType),
		ObjectType:   r.ObjectType,
		Status:       string(r.Status),
		CoinType:     r.CoinType,
		CoinBalance:  r.CoinBalance,
	}
	if r.OwnerAddress != nil {
		v.Owner = r.OwnerAddress.String()
	}
	if r.OldOwnerAddress != nil {
		v.OldOwner = r.OldOwnerAddress.String()
	}
	if len(r.BCS) > 0 {
		v.BCS = hex.EncodeToString(r.BCS)
	}
	return v
}

// ObjectPage is a page of query results with the cursor for the next page.
type ObjectPage struct {
	Mode       string       `json:"mode"`
	Checkpoint *uint64      `json:"checkpoint,omitempty"`
	Objects    []ObjectView `json:"objects"`
	NextCursor string       `json:"next_cursor,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
}

func (p ObjectPage) String() string {
	var b strings.Builder
	if p.Checkpoint != nil {
		fmt.Fprintf(&b, "%s as of checkpoint %d: %d objects\n", p.Mode, *p.Checkpoint, len(p.Objects))
	} else {
		fmt.Fprintf(&b, "%s: %d objects\n", p.Mode, len(p.Objects))
	}
	for _, o := range p.Objects {
		owner := o.Owner
		if owner == "" {
			owner = o.OwnerType
		}
		fmt.Fprintf(&b, "  %s v%d cp%d %s %s\n", o.ObjectID, o.Version, o.Checkpoint, owner, o.ObjectType)
	}
	for _, w := range p.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if p.NextCursor != "" {
		fmt.Fprintf(&b, "next cursor: %s", p.NextCursor)
	}
	return strings.TrimRight(b.String(), "\n")
}
