package settings

import "time"

// Notifications: Email がオフのとき他の通知も送られない
type Notifications struct {
	Email        bool `json:"email"`
	NewMember    bool `json:"newMember"`
	Overdue      bool `json:"overdue"`
	WeeklyReport bool `json:"weeklyReport"`
}

type Settings struct {
	LibraryName   string        `json:"libraryName"`
	Address       string        `json:"address"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone"`
	Notifications Notifications `json:"notifications"`
	UpdatedAt     *time.Time    `json:"updatedAt,omitempty"`
}

// UpdateRequest は部分更新。nil の項目はそのまま。
type UpdateRequest struct {
	LibraryName   *string `json:"libraryName"`
	Address       *string `json:"address"`
	Email         *string `json:"email"`
	Phone         *string `json:"phone"`
	Notifications *NotificationsPatch `json:"notifications"`
}

type NotificationsPatch struct {
	Email        *bool `json:"email"`
	NewMember    *bool `json:"newMember"`
	Overdue      *bool `json:"overdue"`
	WeeklyReport *bool `json:"weeklyReport"`
}
