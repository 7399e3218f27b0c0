package models

// SyncMeta carries the bookkeeping fields of a mirrored row.
type SyncMeta struct {
	Offline  bool  `json:"_isOffline,omitempty"`
	LastSync int64 `json:"last_sync,omitempty"`
}

// Client is a customer of the shop.
type Client struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
	SyncMeta
}

// Vehicle belongs to a client.
type Vehicle struct {
	ID       int64  `json:"id,omitempty"`
	ClientID int64  `json:"client_id"`
	Plate    string `json:"plate"`
	Brand    string `json:"brand,omitempty"`
	Model    string `json:"model,omitempty"`
	Year     int    `json:"year,omitempty"`
	SyncMeta
}

// Technician performs services.
type Technician struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	Active    bool   `json:"active"`
	SyncMeta
}

// ServiceType is a catalog entry with a base price.
type ServiceType struct {
	ID        int64   `json:"id,omitempty"`
	Name      string  `json:"name"`
	BasePrice float64 `json:"base_price"`
	SyncMeta
}

// Service is a job performed on a vehicle.
type Service struct {
	ID            int64   `json:"id,omitempty"`
	ClientID      int64   `json:"client_id"`
	VehicleID     int64   `json:"vehicle_id"`
	TechnicianID  int64   `json:"technician_id,omitempty"`
	ServiceTypeID int64   `json:"service_type_id,omitempty"`
	Status        string  `json:"status"`
	Description   string  `json:"description,omitempty"`
	Price         float64 `json:"price,omitempty"`
	Date          string  `json:"date,omitempty"`
	SyncMeta
}

// Budget is a quote handed to a client before a service.
type Budget struct {
	ID         int64   `json:"id,omitempty"`
	ClientID   int64   `json:"client_id"`
	VehicleID  int64   `json:"vehicle_id,omitempty"`
	Status     string  `json:"status"`
	Total      float64 `json:"total"`
	ValidUntil string  `json:"valid_until,omitempty"`
	SyncMeta
}
