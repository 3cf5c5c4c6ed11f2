package models

import "time"

// Node is a server entry obtained from a subscription.
type Node struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	Network   string    `json:"network"`
	URI       string    `json:"uri"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
