package graph

import (
	"context"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Compare resolves two branches and splits them at their divergence point.
// Messages are matched by id: branches that share a prefix share the same records.
func (r *Resolver) Compare(ctx context.Context, branchAID, branchBID string) (Comparison, error) {
	var chainA, chainB []Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chainA, err = r.ResolveBranch(gctx, branchAID)
		return err
	})
	g.Go(func() (err error) {
		chainB, err = r.ResolveBranch(gctx, branchBID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Comparison{}, err
	}

	n := 0
	for n < len(chainA) && n < len(chainB) && chainA[n].ID == chainB[n].ID {
		n++
	}

	result := Comparison{
		BranchA:            branchAID,
		BranchB:            branchBID,
		CommonPrefixLength: n,
		TailA:              append([]Message{}, chainA[n:]...),
		TailB:              append([]Message{}, chainB[n:]...),
	}
	if len(result.TailA) > 0 && len(result.TailB) > 0 {
		result.Diff = DiffContent(result.TailA[0].Content, result.TailB[0].Content)
	}
	return result, nil
}

// DiffContent returns a semantically cleaned up character diff from a to b.
func DiffContent(a, b string) []DiffOp {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	ops := make([]DiffOp, 0, len(diffs))
	for _, d := range diffs {
		var op string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = "delete"
		case diffmatchpatch.DiffInsert:
			op = "insert"
		default:
			op = "equal"
		}
		ops = append(ops, DiffOp{Op: op, Text: d.Text})
	}
	return ops
}
