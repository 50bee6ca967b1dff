package model

// Product is one line of the warehouse catalogue listing.
type Product struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Group   string `json:"group,omitempty"`
	Article string `json:"article,omitempty"`
	Unit    string `json:"unit,omitempty"`
}
