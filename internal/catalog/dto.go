package catalog

type CreateBookRequest struct {
	Title    string  `json:"title" binding:"required"`
	Author   string  `json:"author" binding:"required"`
	Category string  `json:"category"`
	Stock    *int    `json:"stock" binding:"required"`
	Cover    *string `json:"cover,omitempty"`
}

// UpdateBookRequest: nil のフィールドは変更しない
type UpdateBookRequest struct {
	Title    *string `json:"title,omitempty"`
	Author   *string `json:"author,omitempty"`
	Category *string `json:"category,omitempty"`
	Stock    *int    `json:"stock,omitempty"`
	Cover    *string `json:"cover,omitempty"`
}

type ListResponse struct {
	Items []Book `json:"items"`
	Total int    `json:"total"`
}
