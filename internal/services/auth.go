package services

import (
	"errors"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/utils"
)

var ErrInvalidClient = errors.New("invalid client credentials")

// AuthService issues API tokens to the service clients listed in auth.clients.
type AuthService struct {
	clients   []config.APIClient
	jwtConfig *config.JWTConfig
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{clients: cfg.Auth.Clients, jwtConfig: &cfg.JWT}
}

type TokenRequest struct {
	Client string `json:"client" binding:"required"`
	Key    string `json:"key" binding:"required"`
}

type TokenResponse struct {
	Token    string    `json:"token"`
	Client   string    `json:"client"`
	Role     string    `json:"role"`
	ExpireAt time.Time `json:"expire_at"`
}

// IssueToken checks the client key against its bcrypt hash and signs a token.
func (s *AuthService) IssueToken(req *TokenRequest) (*TokenResponse, error) {
	client := s.findClient(req.Client)
	if client == nil || !utils.CheckSecret(req.Key, client.KeyHash) {
		return nil, ErrInvalidClient
	}

	role := client.Role
	if role == "" {
		role = "operator"
	}
	hours := s.jwtConfig.ExpireHour
	if hours <= 0 {
		hours = 24
	}

	token, err := utils.GenerateToken(client.ID, client.Name, role, hours)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		Token:    token,
		Client:   client.Name,
		Role:     role,
		ExpireAt: time.Now().Add(time.Duration(hours) * time.Hour),
	}, nil
}

func (s *AuthService) findClient(name string) *config.APIClient {
	name = strings.TrimSpace(name)
	for i := range s.clients {
		if strings.EqualFold(s.clients[i].Name, name) {
			return &s.clients[i]
		}
	}
	return nil
}
