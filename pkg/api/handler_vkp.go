package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classedge/sensei/pkg/vkp"
)

// InstallVKP handles POST /api/v1/vkp/install. The declared subject and
// grade must match the package manifest; a mismatch is refused before any
// state changes.
func (s *Server) InstallVKP(c *gin.Context) {
	var req InstallVKPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	pkg, err := vkp.Parse(req.Package)
	if err != nil {
		respondError(c, err)
		return
	}
	if pkg.Manifest.Subject != req.Subject || pkg.Manifest.Grade != req.Grade {
		respondBadRequest(c, fmt.Sprintf("package is for subject %q grade %q",
			pkg.Manifest.Subject, pkg.Manifest.Grade))
		return
	}

	inst, err := s.vkp.Install(c.Request.Context(), req.Package)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, VKPResponse{
		Subject:       inst.Subject,
		Grade:         inst.Grade,
		ActiveVersion: inst.ActiveVersion,
	})
}

// RollbackVKP handles POST /api/v1/vkp/rollback.
func (s *Server) RollbackVKP(c *gin.Context) {
	var req RollbackVKPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	inst, err := s.vkp.Rollback(c.Request.Context(), req.Subject, req.Grade)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, VKPResponse{
		Subject:       inst.Subject,
		Grade:         inst.Grade,
		ActiveVersion: inst.ActiveVersion,
	})
}
