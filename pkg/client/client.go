package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/huddlehq/huddle/pkg/domain"
)

// TeamRequest is the payload for creating or updating a team.
type TeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AddMemberRequest is the payload for adding a user to a team.
type AddMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

// ChannelRequest is the payload for creating a channel.
type ChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// UserPage is one page of user search results.
type UserPage struct {
	Users      []domain.User     `json:"users"`
	Pagination domain.Pagination `json:"pagination"`
}

// Client is the Huddle API client. Authentication is the transport's job:
// pass a session.Transport so every call carries a fresh bearer token.
type Client struct {
	api
}

// New creates a new API client.
func New(baseURL string, transport http.RoundTripper) *Client {
	return &Client{api: newAPI(baseURL, transport)}
}

// ListTeams returns the teams the user belongs to.
func (c *Client) ListTeams(ctx context.Context) ([]domain.Team, error) {
	var resp struct {
		Teams []domain.Team `json:"teams"`
	}
	if err := c.get(ctx, "/api/team", &resp); err != nil {
		return nil, fmt.Errorf("client.ListTeams: %w", err)
	}
	return resp.Teams, nil
}

// GetTeam returns a single team with its members.
func (c *Client) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	var resp struct {
		Team domain.Team `json:"team"`
	}
	if err := c.get(ctx, "/api/team/"+url.PathEscape(id), &resp); err != nil {
		return nil, fmt.Errorf("client.GetTeam: %w", err)
	}
	return &resp.Team, nil
}

// CreateTeam creates a team owned by the user.
func (c *Client) CreateTeam(ctx context.Context, req TeamRequest) (*domain.Team, error) {
	var resp struct {
		Team domain.Team `json:"team"`
	}
	if err := c.post(ctx, "/api/team", req, &resp); err != nil {
		return nil, fmt.Errorf("client.CreateTeam: %w", err)
	}
	return &resp.Team, nil
}

// UpdateTeam renames or re-describes a team. Only owners may do this.
func (c *Client) UpdateTeam(ctx context.Context, id string, req TeamRequest) (*domain.Team, error) {
	var resp struct {
		Team domain.Team `json:"team"`
	}
	if err := c.doRequest(ctx, http.MethodPut, "/api/team/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, fmt.Errorf("client.UpdateTeam: %w", err)
	}
	return &resp.Team, nil
}

// DeleteTeam deletes a team.
func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/team/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteTeam: %w", err)
	}
	return nil
}

// AddMember adds a user to a team.
func (c *Client) AddMember(ctx context.Context, teamID string, req AddMemberRequest) (*domain.Team, error) {
	var resp struct {
		Team domain.Team `json:"team"`
	}
	path := "/api/team/" + url.PathEscape(teamID) + "/members"
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("client.AddMember: %w", err)
	}
	return &resp.Team, nil
}

// RemoveMember removes a user from a team. The removed user is told over
// the realtime channel.
func (c *Client) RemoveMember(ctx context.Context, teamID, memberID string) error {
	path := "/api/team/" + url.PathEscape(teamID) + "/members/" + url.PathEscape(memberID)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("client.RemoveMember: %w", err)
	}
	return nil
}

// SearchUsers finds users by name or email.
func (c *Client) SearchUsers(ctx context.Context, query string, page, limit int) (*UserPage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	var resp UserPage
	if err := c.get(ctx, "/api/users/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("client.SearchUsers: %w", err)
	}
	return &resp, nil
}

// ListTeamChannels returns the channels of a team.
func (c *Client) ListTeamChannels(ctx context.Context, teamID string) ([]domain.Channel, error) {
	var resp struct {
		Channels []domain.Channel `json:"channels"`
	}
	if err := c.get(ctx, "/api/teams/"+url.PathEscape(teamID)+"/channels", &resp); err != nil {
		return nil, fmt.Errorf("client.ListTeamChannels: %w", err)
	}
	return resp.Channels, nil
}

// CreateChannel creates a channel in a team.
func (c *Client) CreateChannel(ctx context.Context, teamID string, req ChannelRequest) (*domain.Channel, error) {
	var resp struct {
		Channel domain.Channel `json:"channel"`
	}
	if err := c.post(ctx, "/api/teams/"+url.PathEscape(teamID)+"/channels", req, &resp); err != nil {
		return nil, fmt.Errorf("client.CreateChannel: %w", err)
	}
	if resp.Channel.TeamID == "" {
		resp.Channel.TeamID = teamID
	}
	return &resp.Channel, nil
}

// GetChannel returns a single channel.
func (c *Client) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	var resp struct {
		Channel domain.Channel `json:"channel"`
	}
	if err := c.get(ctx, "/api/channels/"+url.PathEscape(id), &resp); err != nil {
		return nil, fmt.Errorf("client.GetChannel: %w", err)
	}
	return &resp.Channel, nil
}

// MyChannels returns every channel the user belongs to.
func (c *Client) MyChannels(ctx context.Context) ([]domain.Channel, error) {
	var resp struct {
		Channels []domain.Channel `json:"channels"`
	}
	if err := c.get(ctx, "/api/channels/me", &resp); err != nil {
		return nil, fmt.Errorf("client.MyChannels: %w", err)
	}
	return resp.Channels, nil
}

// ListNotifications returns one page of the user's notifications.
func (c *Client) ListNotifications(ctx context.Context, page, limit int) (*domain.NotificationPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Data domain.NotificationPage `json:"data"`
	}
	if err := c.get(ctx, "/api/notifications?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("client.ListNotifications: %w", err)
	}
	return &resp.Data, nil
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/api/notifications/" + url.PathEscape(id) + "/read"
	if err := c.doRequest(ctx, http.MethodPatch, path, nil, nil); err != nil {
		return fmt.Errorf("client.MarkNotificationRead: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodPatch, "/api/notifications/mark-all-read", nil, nil); err != nil {
		return fmt.Errorf("client.MarkAllNotificationsRead: %w", err)
	}
	return nil
}

// DeleteNotification deletes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteNotification: %w", err)
	}
	return nil
}

// DeleteAllNotifications deletes every notification.
func (c *Client) DeleteAllNotifications(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/notifications", nil, nil); err != nil {
		return fmt.Errorf("client.DeleteAllNotifications: %w", err)
	}
	return nil
}
