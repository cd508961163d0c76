package broadcast

import (
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func MoveView(m *domain.Move, username string) chessdto.MoveView {
	return chessdto.MoveView{
		ID:         m.ID,
		SAN:        m.SAN,
		UCI:        m.UCI,
		MoveNumber: m.MoveNumber,
		IsCheck:    m.IsCheck,
		IsMate:     m.IsMate,
		Player:     username,
	}
}

func Summary(g *domain.Game) chessdto.GameSummary {
	return chessdto.GameSummary{
		FEN:        g.CurrentFEN,
		PGN:        g.PGN,
		Status:     string(g.Status),
		Winner:     string(g.Winner),
		MovesCount: g.MoveCount,
	}
}

func GameView(g *domain.Game, white, black chessdto.PlayerRef) chessdto.GameView {
	return chessdto.GameView{
		ID:             g.ID,
		Status:         string(g.Status),
		Winner:         string(g.Winner),
		FEN:            g.CurrentFEN,
		InitialFEN:     g.InitialFEN,
		PGN:            g.PGN,
		TimeControl:    TimeControlView(g.TimeControl),
		MovesCount:     g.MoveCount,
		White:          white,
		Black:          black,
		RatedProcessed: g.RatedProcessed,
		CreatedAt:      g.CreatedAt,
		StartedAt:      g.StartedAt,
		EndedAt:        g.EndedAt,
	}
}

func TimeControlView(tc domain.TimeControl) chessdto.TimeControl {
	return chessdto.TimeControl{Base: tc.Base, Increment: tc.Increment}
}

func PlayerRef(p *domain.Player) chessdto.PlayerRef {
	if p == nil {
		return chessdto.PlayerRef{}
	}
	return chessdto.PlayerRef{ID: p.ID, Username: p.Username}
}

func PlayerProfile(p *domain.Player) chessdto.PlayerProfile {
	return chessdto.PlayerProfile{
		ID:          p.ID,
		Username:    p.Username,
		Rating:      p.Rating,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Draws:       p.Draws,
		GamesPlayed: p.GamesPlayed(),
	}
}

func TicketView(t *domain.Ticket) chessdto.TicketView {
	return chessdto.TicketView{
		UserID:      t.UserID,
		TimeControl: TimeControlView(t.TimeControl),
		RatingMin:   t.RatingMin,
		RatingMax:   t.RatingMax,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:   t.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}
