package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/linecast/internal/lineserver"
)

type serverConnections struct {
	Name        string                      `json:"name"`
	State       string                      `json:"state"`
	Count       int                         `json:"count"`
	Connections []lineserver.ConnectionInfo `json:"connections"`
}

func (s *Server) handleConnections(c echo.Context) error {
	response := make([]serverConnections, 0, len(s.sources))
	for _, src := range s.sources {
		conns := src.Connections()
		response = append(response, serverConnections{
			Name:        src.Name(),
			State:       src.State().String(),
			Count:       len(conns),
			Connections: conns,
		})
	}

	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write connections response: %w", err)
	}
	return nil
}
