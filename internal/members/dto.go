package members

import "time"

type RegisterRequest struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	PasswordConfirm string `json:"passwordConfirm" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Session はクライアントが保持するログイン情報。
type Session struct {
	Role     string `json:"role"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	Email    string `json:"email"`
	JoinDate string `json:"joinDate"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Session   Session   `json:"session"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status" binding:"required"`
}

type UpdateProfileRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type ListResponse struct {
	Items []Member `json:"items"`
	Total int      `json:"total"`
}

func sessionOf(m *Member) Session {
	return Session{Role: m.Role, Name: m.Name, ID: m.ID, Email: m.Email, JoinDate: m.JoinDate}
}
