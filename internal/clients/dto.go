package clients

// CreateClientRequest is the payload for registering a client.
type CreateClientRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	TaxID     string `json:"tax_id" validate:"omitempty,max=12"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"max=20"`
	Region    string `json:"region" validate:"max=50"`
	Address   string `json:"address" validate:"max=255"`
}

// ClientListResponse is a paginated client listing.
type ClientListResponse struct {
	Clients    []Client `json:"clients"`
	Page       int      `json:"page"`
	PerPage    int      `json:"per_page"`
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
}
