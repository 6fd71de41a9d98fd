package core

import "sort"

type CategoryTotal struct {
	Category Category `json:"category"`
	Total    Money    `json:"total"`
	Count    int      `json:"count"`
}

type MonthTotal struct {
	Month string `json:"month"` // mm-yyyy
	Total Money  `json:"total"`
	Count int    `json:"count"`
}

// SummarizeByCategory aggregates totals per category in enumeration order.
// Categories with no expenses are omitted.
func SummarizeByCategory(expenses []Expense) []CategoryTotal {
	totals := map[Category]*CategoryTotal{}
	for _, e := range expenses {
		t, ok := totals[e.Category]
		if !ok {
			t = &CategoryTotal{Category: e.Category}
			totals[e.Category] = t
		}
		t.Total.Cents += e.Amount.Cents
		t.Count++
	}
	out := []CategoryTotal{}
	for _, c := range Categories() {
		if t, ok := totals[c]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// SummarizeByMonth aggregates totals per calendar month, in chronological
// order. The month key is taken syntactically from the dd-mm-yyyy date.
func SummarizeByMonth(expenses []Expense) []MonthTotal {
	totals := map[string]*MonthTotal{}
	for _, e := range expenses {
		if !datePattern.MatchString(e.Date) {
			continue
		}
		key := e.Date[3:] // mm-yyyy
		t, ok := totals[key]
		if !ok {
			t = &MonthTotal{Month: key}
			totals[key] = t
		}
		t.Total.Cents += e.Amount.Cents
		t.Count++
	}
	out := make([]MonthTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		yi, yj := out[i].Month[3:], out[j].Month[3:]
		if yi != yj {
			return yi < yj
		}
		return out[i].Month[:2] < out[j].Month[:2]
	})
	return out
}
