package cart

import "github.com/mostafaomar7/tadawi-checkout/internal/domain"

// Aggregate groups lines by pharmacy in first-seen order. Nothing is rounded here;
// amounts are rounded only when rendered.
func Aggregate(lines []domain.CartLine) domain.CartView {
	view := domain.CartView{Groups: make([]domain.PharmacyGroup, 0)}
	index := make(map[int64]int)

	for _, l := range lines {
		i, ok := index[l.PharmacyID]
		if !ok {
			i = len(view.Groups)
			index[l.PharmacyID] = i
			view.Groups = append(view.Groups, domain.PharmacyGroup{
				PharmacyID:   l.PharmacyID,
				PharmacyName: l.PharmacyName,
			})
		}
		g := &view.Groups[i]
		g.Lines = append(g.Lines, l)
		g.Subtotal += l.Subtotal()
		g.ItemCount += l.Quantity
	}

	for _, g := range view.Groups {
		view.GrandTotal += g.Subtotal
		view.ItemCount += g.ItemCount
	}
	return view
}
