package summary

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// joinChunk is the number of records handed to one worker at a time.
const joinChunk = 256

// Joiner matches activity records against both boundary layers.
type Joiner struct {
	Chapters *Layer[ChapterAttrs]
	Counties *Layer[CountyAttrs]
	Identity IdentityResolver
	// Workers bounds the number of goroutines running containment tests.
	// Values below 2 run sequentially.
	Workers int
}

// Join returns one JoinedRecord per input record, in input order, plus
// diagnostics for records that could not be located.
func (j Joiner) Join(ctx context.Context, records []ActivityRecord) ([]JoinedRecord, []string, error) {
	out := make([]JoinedRecord, len(records))
	chunks := (len(records) + joinChunk - 1) / joinChunk
	notes := make([][]string, chunks)

	run := func(c int) {
		lo := c * joinChunk
		hi := min(lo+joinChunk, len(records))
		for i := lo; i < hi; i++ {
			out[i], notes[c] = j.joinOne(records[i], notes[c])
		}
	}

	if j.Workers < 2 || chunks < 2 {
		for c := 0; c < chunks; c++ {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			run(c)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.Workers)
		for c := 0; c < chunks; c++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				run(c)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	var diags []string
	for _, n := range notes {
		diags = append(diags, n...)
	}
	return out, diags, nil
}

func (j Joiner) joinOne(rec ActivityRecord, notes []string) (JoinedRecord, []string) {
	jr := JoinedRecord{ActivityRecord: rec, Individual: j.Identity.Resolve(rec)}
	if !rec.Located {
		return jr, append(notes, fmt.Sprintf("activity %s has no point location; left unmatched", rec.ID))
	}

	if j.Chapters != nil {
		attrs, ok, err := j.Chapters.Locate(rec.Location)
		if err != nil {
			notes = append(notes, fmt.Sprintf("activity %s chapter match failed: %v", rec.ID, err))
		} else if ok {
			jr.Chapter = &attrs
		}
	}
	if j.Counties != nil {
		attrs, ok, err := j.Counties.Locate(rec.Location)
		if err != nil {
			notes = append(notes, fmt.Sprintf("activity %s county match failed: %v", rec.ID, err))
		} else if ok {
			jr.County = &attrs
		}
	}
	return jr, notes
}
