package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

// Result is the merged record with its provenance and merge log.
// Provenance maps a field (or a dotted sub-key of a nested negotiable field) to the page it came from.
type Result struct {
	Canonical  entity.UniversalExtractionResult
	Provenance map[string]int
	MergeLog   []string
}

// Reconciler merges per-page extractions into one canonical record.
type Reconciler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

type pageValues struct {
	page   entity.EnrichedPageExtraction
	values map[string]any
}

type fieldOutcome struct {
	value       any
	page        int
	subPages    map[string]int
	confidence  float64
	contributed []int
}

// Reconcile applies the field table to pages. The output depends only on the set of pages,
// not on their input order.
func (r *Reconciler) Reconcile(pages []entity.EnrichedPageExtraction) (Result, error) {
	sorted := make([]entity.EnrichedPageExtraction, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageNumber < sorted[j].PageNumber })

	all := make([]pageValues, 0, len(sorted))
	for _, p := range sorted {
		m, err := fieldsToMap(p.Fields)
		if err != nil {
			return Result{}, fmt.Errorf("page %d: %w", p.PageNumber, err)
		}
		all = append(all, pageValues{page: p, values: m})
	}

	merged := map[string]any{}
	provenance := map[string]int{}
	fieldConf := map[string]float64{}
	contributors := map[int]bool{}
	var log []string

	for _, rule := range FieldTable {
		var out fieldOutcome
		var ok bool
		switch rule.Class {
		case BuyerOriginated:
			out, ok = resolveParty(rule.Name, all, constants.PartyBuyer, &log)
		case SellerOriginated:
			out, ok = resolveParty(rule.Name, all, constants.PartySeller, &log)
		case Negotiable:
			out, ok = resolveNegotiable(rule.Name, all, &log)
		case Informational:
			out, ok = resolveInformational(rule, all, &log)
		default:
			return Result{}, fmt.Errorf("field %s has no precedence class", rule.Name)
		}
		if !ok {
			continue
		}
		merged[rule.Name] = out.value
		provenance[rule.Name] = out.page
		for k, p := range out.subPages {
			provenance[k] = p
		}
		fieldConf[rule.Name] = out.confidence
		for _, p := range out.contributed {
			contributors[p] = true
		}
	}

	normalizeFinancing(merged, &log)

	var fields entity.ContractFields
	if err := mapToFields(merged, &fields); err != nil {
		return Result{}, err
	}

	handwriting := false
	for _, pv := range all {
		if contributors[pv.page.PageNumber] && pv.page.HandwritingDetected {
			handwriting = true
		}
	}

	res := Result{
		Canonical: entity.UniversalExtractionResult{
			ContractFields:      fields,
			OverallConfidence:   AggregateConfidence(fieldConf),
			FieldConfidence:     fieldConf,
			HandwritingDetected: handwriting,
		},
		Provenance: provenance,
		MergeLog:   log,
	}
	r.logger.Debug("reconcile.done",
		"pages", len(all),
		"fields", len(fieldConf),
		"overall", res.Canonical.OverallConfidence,
	)
	return res, nil
}

// resolveParty takes the highest main_contract page as base; only counter-offers authored by
// party may override it, the highest such page winning.
func resolveParty(field string, all []pageValues, party constants.Party, log *[]string) (fieldOutcome, bool) {
	var base, over *pageValues
	for i := range all {
		pv := &all[i]
		v := pv.values[field]
		if isNull(v) {
			continue
		}
		switch {
		case pv.page.Role == constants.RoleMainContract:
			base = pv
		case pv.page.Role == constants.RoleCounterOffer && pv.page.Party == party:
			over = pv
		default:
			*log = append(*log, fmt.Sprintf("%s: page %d (%s) ignored, only %s counter-offers may change it",
				field, pv.page.PageNumber, describe(pv.page), party))
		}
	}
	win := base
	if over != nil {
		win = over
		if base != nil && !equalValues(base.values[field], over.values[field]) {
			*log = append(*log, fmt.Sprintf("%s: page %d (%s) overrides page %d (%s)",
				field, over.page.PageNumber, describe(over.page), base.page.PageNumber, describe(base.page)))
		}
	}
	if win == nil {
		return fieldOutcome{}, false
	}
	return fieldOutcome{
		value:       win.values[field],
		page:        win.page.PageNumber,
		confidence:  win.page.FieldConfidence(field),
		contributed: []int{win.page.PageNumber},
	}, true
}

func negotiableRank(role constants.PageRole) (int, bool) {
	switch role {
	case constants.RoleMainContract:
		return 0, true
	case constants.RoleCounterOffer, constants.RoleAddendum:
		return 1, true
	default:
		return 0, false
	}
}

// resolveNegotiable folds values in (rank, page) order with a deep merge, so later amendments
// replace only the sub-keys they state.
func resolveNegotiable(field string, all []pageValues, log *[]string) (fieldOutcome, bool) {
	type cand struct {
		rank int
		pv   *pageValues
	}
	var cands []cand
	for i := range all {
		pv := &all[i]
		rank, ok := negotiableRank(pv.page.Role)
		if !ok || isNull(pv.values[field]) {
			continue
		}
		cands = append(cands, cand{rank: rank, pv: pv})
	}
	if len(cands) == 0 {
		return fieldOutcome{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank < cands[j].rank
		}
		return cands[i].pv.page.PageNumber < cands[j].pv.page.PageNumber
	})

	var value any
	leafPage := map[string]int{}
	var last *pageValues
	for _, c := range cands {
		page := c.pv.page.PageNumber
		var changed []string
		value = deepMerge(value, c.pv.values[field], field, func(path string, _ bool) {
			if prev, ok := leafPage[path]; ok && prev != page {
				changed = append(changed, path)
			}
			leafPage[path] = page
		})
		if last != nil && len(changed) > 0 {
			*log = append(*log, fmt.Sprintf("%s: page %d (%s) amends %s",
				field, page, describe(c.pv.page), strings.Join(changed, ", ")))
		}
		last = c.pv
	}

	out := fieldOutcome{value: value, page: last.page.PageNumber}
	if _, nested := value.(map[string]any); nested {
		out.subPages = leafPage
	}

	pvs := make([]*pageValues, len(cands))
	for i, c := range cands {
		pvs[i] = c.pv
	}
	out.confidence, out.contributed = leafConfidence(field, pvs, leafPage)
	return out, true
}

// leafConfidence is bounded by the weakest page still contributing a surviving leaf.
func leafConfidence(field string, cands []*pageValues, leafPage map[string]int) (float64, []int) {
	pages := map[int]bool{}
	for _, p := range leafPage {
		pages[p] = true
	}
	confidence := math.Inf(1)
	var contributed []int
	for _, pv := range cands {
		p := pv.page
		if !pages[p.PageNumber] {
			continue
		}
		contributed = append(contributed, p.PageNumber)
		conf := p.FieldConfidence(field)
		for path, lp := range leafPage {
			if lp != p.PageNumber {
				continue
			}
			if sub, ok := p.PerFieldConfidence[path]; ok && sub < conf {
				conf = sub
			}
		}
		if conf < confidence {
			confidence = conf
		}
	}
	sort.Ints(contributed)
	return confidence, contributed
}

// resolveInformational keeps the first value seen in page order. A later page overlays only
// the non-null leaves it states, and takes provenance only when one of them differs.
func resolveInformational(rule FieldRule, all []pageValues, log *[]string) (fieldOutcome, bool) {
	sources := all
	if rule.Broker {
		sources = pagesWithRole(all, rule.Name, constants.RoleBrokerInfo)
		if len(sources) == 0 {
			sources = pagesWithRole(all, rule.Name, constants.RoleMainContract)
		}
	}
	var value any
	var cands []*pageValues
	leafPage := map[string]int{}
	var winner *pageValues
	for i := range sources {
		pv := &sources[i]
		v := pv.values[rule.Name]
		if isNull(v) {
			continue
		}
		page := pv.page.PageNumber
		var changed, added []string
		value = deepMerge(value, v, rule.Name, func(path string, differs bool) {
			if !differs {
				return
			}
			if _, seen := leafPage[path]; seen {
				changed = append(changed, path)
			} else {
				added = append(added, path)
			}
			leafPage[path] = page
		})
		cands = append(cands, pv)
		if winner == nil {
			winner = pv
			continue
		}
		if len(changed) > 0 {
			*log = append(*log, fmt.Sprintf("%s: page %d (%s) changes %s",
				rule.Name, page, describe(pv.page), strings.Join(changed, ", ")))
		}
		if len(added) > 0 {
			*log = append(*log, fmt.Sprintf("%s: page %d (%s) adds %s",
				rule.Name, page, describe(pv.page), strings.Join(added, ", ")))
		}
		if len(changed)+len(added) > 0 {
			winner = pv
		}
	}
	if winner == nil {
		return fieldOutcome{}, false
	}
	out := fieldOutcome{value: value, page: winner.page.PageNumber}
	if _, nested := value.(map[string]any); nested {
		out.subPages = leafPage
	}
	out.confidence, out.contributed = leafConfidence(rule.Name, cands, leafPage)
	return out, true
}

func pagesWithRole(all []pageValues, field string, role constants.PageRole) []pageValues {
	var out []pageValues
	for _, pv := range all {
		if pv.page.Role == role && !isNull(pv.values[field]) {
			out = append(out, pv)
		}
	}
	return out
}

func normalizeFinancing(merged map[string]any, log *[]string) {
	fin, ok := merged["financing"].(map[string]any)
	if !ok {
		return
	}
	raw, ok := fin["loanType"].(string)
	if !ok {
		return
	}
	norm := NormalizeLoanType(raw)
	if string(norm) == raw {
		return
	}
	if norm == constants.LoanNone {
		delete(fin, "loanType")
		if len(fin) == 0 {
			delete(merged, "financing")
		}
	} else {
		fin["loanType"] = string(norm)
	}
	*log = append(*log, fmt.Sprintf("financing.loanType: normalized %q to %q", raw, norm))
}

func describe(p entity.EnrichedPageExtraction) string {
	s := string(p.Role)
	if p.Party != constants.PartyUnknown {
		s = string(p.Party) + " " + s
	}
	if p.FormCode != "" {
		s += " " + p.FormCode
	}
	return s
}

func fieldsToMap(f entity.ContractFields) (map[string]any, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return m, nil
}

func mapToFields(m map[string]any, out *entity.ContractFields) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal merged fields: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal merged fields: %w", err)
	}
	return nil
}
