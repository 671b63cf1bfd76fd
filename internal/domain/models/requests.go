package models

// Requests for the admin HTTP endpoints.

type KeysRequest struct {
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=10000"`
	Prefix string `query:"prefix" json:"prefix" validate:"omitempty,max=64"`
}

type KeyStateRequest struct {
	Key string `param:"key" json:"key" validate:"required,max=128"`
}
