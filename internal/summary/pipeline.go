package summary

import (
	"context"
	"fmt"
	"time"
)

// Options tune a computation. The zero value is usable.
type Options struct {
	// Workers for the containment tests; < 2 runs sequentially.
	Workers int
	// TopWords caps the word cloud; 0 means DefaultTopWords.
	TopWords int
	// Now stamps last_updated; zero means time.Now().UTC().
	Now time.Time
}

// Stats are counts describing one computation.
type Stats struct {
	Activities       int
	Unlocated        int
	ChapterMatches   int
	CountyMatches    int
	Individuals      int
	DistinctWords    int
	ChapterPolygons  int
	CountyPolygons   int
	IdentityStrategy IdentityStrategy
}

// Result is the output of Compute.
type Result struct {
	Fields      FieldMapping
	Rows        []SummaryRow
	Words       Frequencies
	Stats       Stats
	Diagnostics []string
}

// Compute runs field discovery, the spatial join, identity resolution, word
// extraction and the hierarchy rollup. It performs no I/O; the only error
// it returns is the context's.
func Compute(ctx context.Context, in Input, opts Options) (*Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	top := opts.TopWords
	if top == 0 {
		top = DefaultTopWords
	}

	fields := DiscoverFields(in.Activities.Columns)
	res := &Result{Fields: fields}
	res.Diagnostics = append(res.Diagnostics, fields.Diagnostics()...)

	records := make([]ActivityRecord, len(in.Activities.Records))
	texts := make([]string, 0, len(records))
	for i, raw := range in.Activities.Records {
		records[i] = fields.Record(raw)
		if records[i].Description != "" {
			texts = append(texts, records[i].Description)
		}
	}

	chapters := NewLayer("chapter", in.Chapters)
	counties := NewLayer("county", in.Counties)
	res.Diagnostics = append(res.Diagnostics, chapters.Skipped()...)
	res.Diagnostics = append(res.Diagnostics, counties.Skipped()...)

	joiner := Joiner{
		Chapters: chapters,
		Counties: counties,
		Identity: NewIdentityResolver(fields),
		Workers:  opts.Workers,
	}
	joined, notes, err := joiner.Join(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("spatial join: %w", err)
	}
	res.Diagnostics = append(res.Diagnostics, notes...)

	res.Words = ExtractWords(texts)
	res.Rows = Aggregate(joined, res.Words.Top(top), now)

	res.Stats = Stats{
		Activities:       len(joined),
		DistinctWords:    res.Words.Len(),
		ChapterPolygons:  chapters.Len(),
		CountyPolygons:   counties.Len(),
		IdentityStrategy: joiner.Identity.Strategy(),
	}
	for _, jr := range joined {
		if !jr.Located {
			res.Stats.Unlocated++
		}
		if jr.Chapter != nil {
			res.Stats.ChapterMatches++
		}
		if jr.County != nil {
			res.Stats.CountyMatches++
		}
	}
	if len(res.Rows) > 0 {
		res.Stats.Individuals = res.Rows[0].IndividualCount
	}
	return res, nil
}

// CountByType tallies rows per geo type.
func CountByType(rows []SummaryRow) map[GeoType]int {
	out := make(map[GeoType]int, len(AllGeoTypes))
	for _, r := range rows {
		out[r.GeoType]++
	}
	return out
}
