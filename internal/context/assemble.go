package context

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/memory"
)

// tokenEncoding is resolved once; tiktoken-go caches the BPE ranks itself.
var tokenEncoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		tokenEncoding = enc
	}
}

// Resolve turns a node's context spec into the profile Assemble should use.
// "none" or an empty spec yields nil (the caller should skip assembly
// entirely); "global" yields the built-in default; any other value is a
// profile id the caller must already have looked up.
func Resolve(contextSpec string, named *Profile, defaultBudget int) *Profile {
	switch contextSpec {
	case "", "none":
		return nil
	case "global":
		p := DefaultProfile(defaultBudget)
		return &p
	default:
		return named
	}
}

// EstimateCost returns item.TokenCost if precomputed, otherwise estimates it
// from the item's payload via a GPT BPE tokenizer.
func EstimateCost(item memory.Item) int {
	if item.TokenCost > 0 {
		return item.TokenCost
	}
	text := renderForCost(item)
	if tokenEncoding != nil {
		return len(tokenEncoding.Encode(text, nil, nil))
	}
	// Fallback estimate consistent with the ~4-chars-per-token heuristic
	// used elsewhere in the corpus when no tokenizer is available.
	return (len(text) + 3) / 4
}

func renderForCost(item memory.Item) string {
	data, err := json.Marshal(item.Payload)
	if err != nil {
		return ""
	}
	return string(data)
}

type scoredItem struct {
	item   memory.Item
	cost   int
	pinned bool
}

// Assemble produces a token-bounded Package from tier snapshots per profile.
// mode identifies the calling node's invocation mode, folded into the
// package fingerprint.
func Assemble(mode string, profile Profile, snapshots []TierSnapshot, budget int) (*Package, error) {
	if budget <= 0 {
		budget = profile.TokenBudget
	}

	available := make([]TierSnapshot, 0, len(snapshots))
	var degradedTiers []memory.Tier
	for _, snap := range snapshots {
		if !snap.Available {
			degradedTiers = append(degradedTiers, snap.Tier)
			continue
		}
		available = append(available, snap)
	}
	if len(available) == 0 && len(snapshots) > 0 {
		return nil, domain.New(domain.ErrContextDegraded, "all memory tiers unavailable", nil, nil)
	}

	byTier := make(map[memory.Tier][]scoredItem)
	var pinnedCost int

	for _, snap := range available {
		filtered := filterItems(snap.Items, profile)
		scored := scoreItems(filtered)
		pinned := markPinned(scored, profile.HeadPreserve, profile.TailPreserve)
		for i := range pinned {
			pinned[i].cost = EstimateCost(pinned[i].item)
			if pinned[i].pinned {
				pinnedCost += pinned[i].cost
			}
		}
		byTier[snap.Tier] = pinned
	}

	remaining := budget - pinnedCost
	if remaining < 0 {
		remaining = 0
	}
	shares := tierShares(profile.TierWeights, remaining)

	var selected []SelectedItem
	var totalCost int
	for _, tier := range []memory.Tier{memory.TierTask, memory.TierProject, memory.TierGlobal} {
		items, ok := byTier[tier]
		if !ok {
			continue
		}
		share := shares[string(tier)]
		var greedySpent int
		for _, si := range items {
			if si.pinned {
				selected = append(selected, SelectedItem{Item: si.item, Tier: tier, Pinned: true})
				totalCost += si.cost
				continue
			}
			if greedySpent+si.cost > share {
				continue
			}
			greedySpent += si.cost
			totalCost += si.cost
			selected = append(selected, SelectedItem{Item: si.item, Tier: tier, Pinned: false})
		}
	}

	ratio := 0.0
	if budget > 0 {
		ratio = float64(totalCost) / float64(budget)
	}

	pkg := &Package{
		ProfileID:        profile.ID,
		Items:            selected,
		TotalCost:        totalCost,
		AvailableCost:    budget,
		CompressionRatio: ratio,
		Degraded:         len(degradedTiers) > 0,
		DegradedTiers:    degradedTiers,
	}
	pkg.Fingerprint = fingerprint(mode, profile.ID, selected)
	return pkg, nil
}

func filterItems(items []memory.Item, profile Profile) []memory.Item {
	preferred := toSet(profile.PreferredKinds)
	excluded := toSet(profile.ExcludedKinds)

	out := make([]memory.Item, 0, len(items))
	for _, item := range items {
		if len(preferred) > 0 && !preferred[item.Kind] {
			continue
		}
		if excluded[item.Kind] {
			continue
		}
		if item.Importance < profile.MinImportance {
			continue
		}
		out = append(out, item)
	}
	return out
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// scoreItems orders by importance descending, then timestamp descending —
// the assembler's canonical ranking before pinning and greedy selection.
func scoreItems(items []memory.Item) []scoredItem {
	out := make([]scoredItem, len(items))
	for i, item := range items {
		out[i] = scoredItem{item: item}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].item.Importance != out[j].item.Importance {
			return out[i].item.Importance > out[j].item.Importance
		}
		return out[i].item.Timestamp.After(out[j].item.Timestamp)
	})
	return out
}

// markPinned flags the top headPreserve items by importance and the
// tailPreserve most recent items (by timestamp) as pinned.
func markPinned(items []scoredItem, headPreserve, tailPreserve int) []scoredItem {
	n := len(items)
	for i := 0; i < headPreserve && i < n; i++ {
		items[i].pinned = true
	}

	byAge := make([]int, n)
	for i := range byAge {
		byAge[i] = i
	}
	sort.SliceStable(byAge, func(i, j int) bool {
		return items[byAge[i]].item.Timestamp.Before(items[byAge[j]].item.Timestamp)
	})
	for i := 0; i < tailPreserve && i < n; i++ {
		items[byAge[n-1-i]].pinned = true
	}
	return items
}

// tierShares splits budget across weights, rounding down with the leftover
// remainder assigned to the highest-weight tier.
func tierShares(weights map[string]float64, budget int) map[string]int {
	shares := make(map[string]int, len(weights))
	var total int
	best := ""
	var bestWeight float64
	for tier, w := range weights {
		share := int(float64(budget) * w)
		shares[tier] = share
		total += share
		if w > bestWeight {
			bestWeight = w
			best = tier
		}
	}
	if best != "" {
		shares[best] += budget - total
	}
	return shares
}

func fingerprint(mode, profileID string, selected []SelectedItem) Fingerprint {
	sources := make([]string, 0, len(selected))
	counts := make(map[string]int)
	for _, si := range selected {
		if si.Item.Source != "" {
			sources = append(sources, si.Item.Source)
		}
		counts[string(si.Tier)]++
	}
	sort.Strings(sources)
	sources = dedupe(sources)

	tierNames := make([]string, 0, len(counts))
	for tier := range counts {
		tierNames = append(tierNames, tier)
	}
	sort.Strings(tierNames)
	countParts := make([]string, 0, len(tierNames))
	for _, tier := range tierNames {
		countParts = append(countParts, fmt.Sprintf("%s:%d", tier, counts[tier]))
	}

	raw := strings.Join([]string{
		mode,
		strings.Join(sources, ","),
		profileID,
		strings.Join(countParts, ","),
	}, "||")

	sum := sha256.Sum256([]byte(raw))
	return Fingerprint{Mode: mode, Hash: hex.EncodeToString(sum[:])}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}
