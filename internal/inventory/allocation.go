package inventory

import (
	"sort"

	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/pkg/db/models"
)

// planAllocation assigns reservation lines to stock locations. Preference
// order is the default location first, then locations with the most free
// stock for the requested lines; ranking by distance to the shipping address
// is skipped because no distance data exists. A single location covering
// every line on hand wins outright, otherwise units spread greedily in
// preference order. Leftovers backorder only when every short variant has a
// backorderable stock item with capacity; the short lines come back
// otherwise and nothing allocates.
func planAllocation(locations []models.StockLocation, items map[uuid.UUID]map[uuid.UUID]*models.StockItem, lines []ReservationLine) ([]LocationAllocation, []map[string]any) {
	requested := make([]ReservationLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty > 0 {
			requested = append(requested, line)
		}
	}
	if len(requested) == 0 {
		return nil, nil
	}

	ordered := preferenceOrder(locations, items, requested)

	for _, location := range ordered {
		if coversAllOnHand(items[location.ID], requested) {
			allocation := LocationAllocation{LocationID: location.ID}
			for _, line := range requested {
				allocation.Lines = append(allocation.Lines, AllocatedLine{VariantID: line.VariantID, Qty: line.Qty})
			}
			return []LocationAllocation{allocation}, nil
		}
	}

	remaining := make(map[uuid.UUID]int, len(requested))
	for _, line := range requested {
		remaining[line.VariantID] += line.Qty
	}

	var allocations []LocationAllocation
	for _, location := range ordered {
		locItems := items[location.ID]
		var allocated []AllocatedLine
		for _, line := range requested {
			need := remaining[line.VariantID]
			if need == 0 {
				continue
			}
			free := freeOnHand(locItems[line.VariantID])
			if free <= 0 {
				continue
			}
			take := need
			if take > free {
				take = free
			}
			allocated = append(allocated, AllocatedLine{VariantID: line.VariantID, Qty: take})
			remaining[line.VariantID] -= take
		}
		if len(allocated) > 0 {
			allocations = append(allocations, LocationAllocation{LocationID: location.ID, Lines: allocated})
		}
	}

	// Backorder gate: every short variant must find a backorderable item
	// with room, or the whole order fails.
	var short []map[string]any
	type backorder struct {
		locationID uuid.UUID
		variantID  uuid.UUID
		qty        int
	}
	var backorders []backorder
	for _, line := range requested {
		need := remaining[line.VariantID]
		if need == 0 {
			continue
		}
		placed := false
		for _, location := range ordered {
			item := items[location.ID][line.VariantID]
			if item == nil || !item.Backorderable {
				continue
			}
			if backorderCapacity(item) < need {
				continue
			}
			backorders = append(backorders, backorder{locationID: location.ID, variantID: line.VariantID, qty: need})
			placed = true
			break
		}
		if !placed {
			short = append(short, map[string]any{
				"variant_id": line.VariantID.String(),
				"requested":  line.Qty,
				"available":  totalAvailable(items, line.VariantID),
			})
		}
	}
	if len(short) > 0 {
		return nil, short
	}

	for _, bo := range backorders {
		allocations = mergeBackorder(allocations, bo.locationID, bo.variantID, bo.qty)
	}
	return allocations, nil
}

func preferenceOrder(locations []models.StockLocation, items map[uuid.UUID]map[uuid.UUID]*models.StockItem, requested []ReservationLine) []models.StockLocation {
	ordered := make([]models.StockLocation, len(locations))
	copy(ordered, locations)
	coverage := func(location models.StockLocation) int {
		total := 0
		for _, line := range requested {
			free := freeOnHand(items[location.ID][line.VariantID])
			if free > line.Qty {
				free = line.Qty
			}
			total += free
		}
		return total
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Default != ordered[j].Default {
			return ordered[i].Default
		}
		ci, cj := coverage(ordered[i]), coverage(ordered[j])
		if ci != cj {
			return ci > cj
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered
}

func coversAllOnHand(locItems map[uuid.UUID]*models.StockItem, requested []ReservationLine) bool {
	for _, line := range requested {
		if freeOnHand(locItems[line.VariantID]) < line.Qty {
			return false
		}
	}
	return true
}

func freeOnHand(item *models.StockItem) int {
	if item == nil {
		return 0
	}
	free := item.OnHand - item.Reserved
	if free < 0 {
		return 0
	}
	return free
}

func backorderCapacity(item *models.StockItem) int {
	over := item.Reserved - item.OnHand
	if over < 0 {
		over = 0
	}
	return item.BackorderLimit - over
}

func totalAvailable(items map[uuid.UUID]map[uuid.UUID]*models.StockItem, variantID uuid.UUID) int {
	total := 0
	for _, locItems := range items {
		if item := locItems[variantID]; item != nil {
			total += item.CountAvailable()
		}
	}
	return total
}

func mergeBackorder(allocations []LocationAllocation, locationID, variantID uuid.UUID, qty int) []LocationAllocation {
	for i := range allocations {
		if allocations[i].LocationID != locationID {
			continue
		}
		for j := range allocations[i].Lines {
			if allocations[i].Lines[j].VariantID == variantID {
				allocations[i].Lines[j].Qty += qty
				allocations[i].Lines[j].Backordered += qty
				return allocations
			}
		}
		allocations[i].Lines = append(allocations[i].Lines, AllocatedLine{VariantID: variantID, Qty: qty, Backordered: qty})
		return allocations
	}
	return append(allocations, LocationAllocation{
		LocationID: locationID,
		Lines:      []AllocatedLine{{VariantID: variantID, Qty: qty, Backordered: qty}},
	})
}
