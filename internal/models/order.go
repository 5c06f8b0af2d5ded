package models

import "time"

// Order is the read-only view of a billing order this service consumes.
type Order struct {
	ID        int64
	ClientID  int64
	ProductID int64
	ServiceID *int64
	Title     string
	Status    string
	Config    map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Client is the read-only view of a billing client.
type Client struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
}

// ProvisionLog is one entry of the provisioning action log.
type ProvisionLog struct {
	ID        string
	ServiceID int64
	Action    string
	Status    string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
