package summary

import (
	"sort"
	"strings"
	"time"
)

// groupKey is a (name, parent) pair. Region, Chapter and County rows may
// share a name under different parents; those stay separate rows.
type groupKey struct {
	name   string
	parent string
}

type counter map[groupKey]int

func (c counter) rows(t GeoType, now time.Time) []SummaryRow {
	keys := make([]groupKey, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].parent < keys[j].parent
	})

	out := make([]SummaryRow, 0, len(keys))
	for _, k := range keys {
		out = append(out, SummaryRow{
			GeoType:       t,
			GeoName:       k.name,
			ParentName:    k.parent,
			ActivityCount: c[k],
			LastUpdated:   now,
		})
	}
	return out
}

// present trims s and reports whether anything meaningful is left.
func present(s string) (string, bool) {
	if IsBlank(s) {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// CountyParent builds the composite parent label of a County row.
func CountyParent(state, chapter string) string {
	return state + " | " + chapter
}

// Aggregate rolls the joined records up every level of both hierarchies
// and appends the word cloud rows. Rows come out in publication order
// (see AllGeoTypes), sorted by name then parent within a type.
func Aggregate(joined []JoinedRecord, words []WordCount, now time.Time) []SummaryRow {
	individuals := counter{}
	divisions := counter{}
	regions := counter{}
	chapters := counter{}
	counties := counter{}

	for _, jr := range joined {
		individuals[groupKey{name: jr.Individual.Label}]++

		if ch := jr.Chapter; ch != nil {
			division, hasDivision := present(ch.Division)
			region, hasRegion := present(ch.Region)
			chapter, hasChapter := present(ch.Chapter)

			if hasDivision {
				divisions[groupKey{name: division}]++
			}
			if hasRegion && hasDivision {
				regions[groupKey{name: region, parent: division}]++
			}
			if hasChapter && hasRegion {
				chapters[groupKey{name: chapter, parent: region}]++
			}
		}

		if co := jr.County; co != nil {
			county, ok := present(co.County)
			if !ok {
				continue
			}
			state, _ := present(co.State)
			var chapter string
			if jr.Chapter != nil {
				chapter, _ = present(jr.Chapter.Chapter)
			}
			counties[groupKey{name: county, parent: CountyParent(state, chapter)}]++
		}
	}

	rows := []SummaryRow{{
		GeoType:         GeoTotal,
		GeoName:         TotalName,
		ActivityCount:   len(joined),
		IndividualCount: len(individuals),
		LastUpdated:     now,
	}}

	for _, w := range words {
		rows = append(rows, SummaryRow{
			GeoType:       GeoWordCloud,
			GeoName:       w.Word,
			ActivityCount: w.Count,
			LastUpdated:   now,
		})
	}

	rows = append(rows, individuals.rows(GeoIndividual, now)...)
	rows = append(rows, divisions.rows(GeoDivision, now)...)
	rows = append(rows, regions.rows(GeoRegion, now)...)
	rows = append(rows, chapters.rows(GeoChapter, now)...)
	rows = append(rows, counties.rows(GeoCounty, now)...)
	return rows
}
