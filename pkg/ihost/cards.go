package ihost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hubbridge/hubbridge/pkg/log"
)

// Card is a custom dashboard card registered with the hub.
type Card struct {
	ID           string       `json:"id,omitempty"`
	Label        string       `json:"label"`
	CastSettings *cardSurface `json:"cast_settings,omitempty"`
	WebSettings  *cardSurface `json:"web_settings,omitempty"`
}

type cardSurface struct {
	Default         string          `json:"default,omitempty"`
	DrawerComponent *cardSource     `json:"drawer_component,omitempty"`
	Dimensions      []cardDimension `json:"dimensions"`
}

type cardSource struct {
	Src string `json:"src"`
}

type cardDimension struct {
	Src  string `json:"src"`
	Size string `json:"size"`
}

// GetCards lists the custom cards registered with the hub.
func (c *Client) GetCards(ctx context.Context, accessToken string) ([]Card, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, cardsPath, nil, accessToken)
	if err != nil {
		return nil, err
	}

	var res struct {
		Data []Card `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode cards response: %w", err)
	}
	return res.Data, nil
}

// CreateCard registers a custom card rendering cardURL on the cast screen
// (2×2) and the web dashboard (1×1 and 2×1, plus the drawer).
func (c *Client) CreateCard(ctx context.Context, accessToken, label, cardURL string) (Card, error) {
	card := Card{
		Label: label,
		CastSettings: &cardSurface{
			Default: "2×2",
			Dimensions: []cardDimension{
				{Src: cardURL, Size: "2×2"},
			},
		},
		WebSettings: &cardSurface{
			Default:         "1×1",
			DrawerComponent: &cardSource{Src: cardURL},
			Dimensions: []cardDimension{
				{Src: cardURL, Size: "1×1"},
				{Src: cardURL, Size: "2×1"},
			},
		},
	}

	raw, err := c.doRequest(ctx, http.MethodPost, cardsPath, card, accessToken)
	if err != nil {
		return Card{}, err
	}

	var res struct {
		Data Card `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return Card{}, fmt.Errorf("failed to decode create card response: %w", err)
	}
	if res.Data.Label == "" {
		res.Data.Label = label
	}
	log.Ctx(ctx).InfoContext(ctx, "created ihost card", slog.String("label", label))
	return res.Data, nil
}

// EnsureCard creates the card only when no card with the exact label already
// exists, so repeated cycles never duplicate it.
func (c *Client) EnsureCard(ctx context.Context, accessToken, label, cardURL string) (Card, error) {
	cards, err := c.GetCards(ctx, accessToken)
	if err != nil {
		return Card{}, err
	}
	for _, card := range cards {
		if card.Label == label {
			return card, nil
		}
	}
	return c.CreateCard(ctx, accessToken, label, cardURL)
}
