package catalog

type Book struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Category string  `json:"category"`
	Stock    int     `json:"stock"`
	Cover    *string `json:"cover,omitempty"`
}

// AllCategories は「全カテゴリ」を意味する UI 上の値。
const AllCategories = "Semua"

type Filter struct {
	Q         string // title / author の部分一致 (大文字小文字無視)
	Category  string
	Available bool // stock > 0 のみ
}
