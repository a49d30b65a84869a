package circulation

type BorrowRequest struct {
	BookID int64 `json:"bookId" binding:"required"`
	// 省略時はログイン中の会員
	MemberID MemberRef `json:"memberId,omitempty"`
}

type ReturnRequest struct {
	// 指定された場合は貸出の book_id と一致しなければならない
	BookID *int64 `json:"bookId,omitempty"`
}

type ListResponse struct {
	Items []Loan `json:"items"`
	Total int    `json:"total"`
}

type SweepResult struct {
	Marked int64 `json:"marked"`
}
