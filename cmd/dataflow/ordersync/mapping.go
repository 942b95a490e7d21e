package ordersync

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/casemirror/dataflow/common/models"
	"github.com/google/uuid"
)

// orderNamespace scopes deterministic order ids
var orderNamespace = uuid.MustParse("6f1d4b0e-8a53-4c1f-9f0e-3c2a7d9b5e41")

// suggestedCaseNumber matches the docket clerk's "WARN: 24-12345" marker
var suggestedCaseNumber = regexp.MustCompile(`WARN:\s*(\d{2}-\d{5})`)

// mappedOrder keeps the legacy transaction id next to the public order so
// ordering can use it after it is gone from the public shape
type mappedOrder struct {
	txID  int64
	order models.Order
}

// OrderID derives the document id of an order from its legacy identity
func OrderID(caseID string, orderType models.OrderType, txID int64) string {
	name := caseID + "|" + string(orderType) + "|" + strconv.FormatInt(txID, 10)
	return uuid.NewSHA1(orderNamespace, []byte(name)).String()
}

// SuggestedCaseNumber returns the case number flagged in a raw transaction
// record, or "" when there is none
func SuggestedCaseNumber(rawRec string) string {
	m := suggestedCaseNumber.FindStringSubmatch(rawRec)
	if m == nil {
		return ""
	}
	return m[1]
}

// DocumentLabel derives the display label of a document from its file name:
// the third and later dash-separated components of the base name. ok is
// false when the name has too few components, in which case the base name
// is returned.
func DocumentLabel(fileName string) (label string, ok bool) {
	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return base, false
	}
	return strings.Join(parts[2:], "-"), true
}

// sequenceComponent returns the second-to-last dash component of a file
// name as a number
func sequenceComponent(fileName string) (int, bool) {
	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	parts := strings.Split(base, "-")
	if len(parts) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortDocuments orders the documents of one docket entry by the numeric
// second-to-last file name component, falling back to the file name.
// Documents with a numeric component sort before those without. The input
// is not modified.
func SortDocuments(docs []models.LegacyDocument) []models.LegacyDocument {
	sorted := make([]models.LegacyDocument, len(docs))
	copy(sorted, docs)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, aok := sequenceComponent(sorted[i].FileName)
		b, bok := sequenceComponent(sorted[j].FileName)
		if aok != bok {
			return aok
		}
		if aok && a != b {
			return a < b
		}
		return sorted[i].FileName < sorted[j].FileName
	})

	return sorted
}

// toDocketDocument maps a legacy document. The second return value is false
// when the label had to fall back to the bare file name.
func toDocketDocument(doc models.LegacyDocument) (models.DocketDocument, bool) {
	label, ok := DocumentLabel(doc.FileName)
	return models.DocketDocument{
		FileURI:   doc.URI,
		FileSize:  doc.FileSize,
		FileLabel: label,
		FileExt:   strings.TrimPrefix(path.Ext(doc.FileName), "."),
	}, ok
}

// entryGroup is the docket entries of one legacy case
type entryGroup struct {
	entries []models.DocketEntry
}

func (g *entryGroup) earliestFiled() (time.Time, bool) {
	var earliest time.Time
	for i, e := range g.entries {
		if i == 0 || e.DateFiled.Before(earliest) {
			earliest = e.DateFiled
		}
	}
	return earliest, len(g.entries) > 0
}

// mapEntries merges documents into their docket entry by transaction id and
// groups the entries by legacy case id. badLabels receives every file name
// whose label fell back; orphans receives documents with no entry.
func mapEntries(entries []models.LegacyDocketEntry, docs []models.LegacyDocument, badLabels, orphans func(models.LegacyDocument)) map[string]*entryGroup {
	docsByTx := make(map[int64][]models.LegacyDocument)
	for _, d := range docs {
		docsByTx[d.TxID] = append(docsByTx[d.TxID], d)
	}

	groups := make(map[string]*entryGroup)
	for _, e := range entries {
		entry := models.DocketEntry{
			SequenceNumber: e.SequenceNumber,
			DocumentNumber: e.DocumentNumber,
			DateFiled:      e.DateFiled,
			Summary:        e.Summary,
			FullText:       e.FullText,
		}

		for _, d := range SortDocuments(docsByTx[e.TxID]) {
			mapped, ok := toDocketDocument(d)
			if !ok {
				badLabels(d)
			}
			entry.Documents = append(entry.Documents, mapped)
		}
		delete(docsByTx, e.TxID)

		g, exists := groups[e.DxtrCaseID]
		if !exists {
			g = &entryGroup{}
			groups[e.DxtrCaseID] = g
		}
		g.entries = append(g.entries, entry)
	}

	for _, leftover := range docsByTx {
		for _, d := range leftover {
			orphans(d)
		}
	}

	for _, g := range groups {
		sort.SliceStable(g.entries, func(i, j int) bool {
			return g.entries[i].SequenceNumber < g.entries[j].SequenceNumber
		})
	}

	return groups
}

// mapOrder builds the public order from a legacy header and the entries of
// its case. The order date becomes the earliest filing date among the
// entries when there are any.
func mapOrder(raw models.LegacyOrder, orderType models.OrderType, group *entryGroup) mappedOrder {
	order := models.Order{
		ID:                        OrderID(raw.CaseID, orderType, raw.TxID),
		CaseID:                    raw.CaseID,
		CaseTitle:                 raw.CaseTitle,
		Chapter:                   raw.Chapter,
		CourtName:                 raw.CourtName,
		CourtDivisionCode:         raw.CourtDivisionCode,
		CourtDivisionName:         raw.CourtDivisionName,
		RegionID:                  raw.RegionID,
		OrderType:                 orderType,
		OrderDate:                 raw.OrderDate,
		Status:                    models.OrderPending,
		DocketEntries:             []models.DocketEntry{},
		DocketSuggestedCaseNumber: SuggestedCaseNumber(raw.RawRec),
	}

	if group != nil {
		order.DocketEntries = append(order.DocketEntries, group.entries...)
		if earliest, ok := group.earliestFiled(); ok {
			order.OrderDate = earliest
		}
	}

	return mappedOrder{txID: raw.TxID, order: order}
}

// sortOrders orders by order date, then case id, then legacy transaction id
func sortOrders(orders []mappedOrder) []models.Order {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.order.OrderDate.Equal(b.order.OrderDate) {
			return a.order.OrderDate.Before(b.order.OrderDate)
		}
		if a.order.CaseID != b.order.CaseID {
			return a.order.CaseID < b.order.CaseID
		}
		return a.txID < b.txID
	})

	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.order)
	}
	return out
}

// maxTxID returns the largest transaction id across all three sets and prev
func maxTxID(prev int64, set *models.LegacyOrderSet) int64 {
	highest := prev
	for _, o := range set.Orders {
		highest = max(highest, o.TxID)
	}
	for _, e := range set.Entries {
		highest = max(highest, e.TxID)
	}
	for _, d := range set.Documents {
		highest = max(highest, d.TxID)
	}
	return highest
}
