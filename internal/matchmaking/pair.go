// Package matchmaking queues players and pairs compatible tickets into new games.
package matchmaking

import (
	"sort"

	"github.com/park285/cheese-arena/internal/domain"
)

// Pairing is two compatible tickets. White is the earlier arrival.
type Pairing struct {
	White domain.Ticket
	Black domain.Ticket
}

// Compatible requires the same time control and that each ticket accepts the other's rating.
func Compatible(a, b *domain.Ticket, ratingA, ratingB int) bool {
	return a.TimeControl == b.TimeControl && a.Accepts(ratingB) && b.Accepts(ratingA)
}

// Pair matches first-fit by arrival: each unmatched ticket, oldest first, takes the first later
// unmatched ticket it is compatible with. Tickets whose owner has no rating never match.
func Pair(tickets []domain.Ticket, ratings map[string]int) []Pairing {
	ordered := make([]domain.Ticket, len(tickets))
	copy(ordered, tickets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].UserID < ordered[j].UserID
	})

	matched := make([]bool, len(ordered))
	var out []Pairing
	for i := range ordered {
		if matched[i] {
			continue
		}
		ri, ok := ratings[ordered[i].UserID]
		if !ok {
			continue
		}
		for j := i + 1; j < len(ordered); j++ {
			if matched[j] || ordered[j].UserID == ordered[i].UserID {
				continue
			}
			rj, ok := ratings[ordered[j].UserID]
			if !ok || !Compatible(&ordered[i], &ordered[j], ri, rj) {
				continue
			}
			matched[i], matched[j] = true, true
			out = append(out, Pairing{White: ordered[i], Black: ordered[j]})
			break
		}
	}
	return out
}
