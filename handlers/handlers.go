package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"seraph/feed"
	"seraph/media"
	"seraph/middleware"
	"seraph/models"
	"seraph/search"
	"seraph/services"
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is the JSON body of a succeeded mutation with no payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// Searcher runs full-text queries over reports.
type Searcher interface {
	Search(queryStr string, category models.Category, limit int) ([]*search.Result, error)
}

// Handlers handles HTTP requests for the report service
type Handlers struct {
	reports  *services.ReportService
	users    *services.UserService
	searcher Searcher

	defaultRadius float64
	maxRadius     float64
}

// NewHandlers creates a new handlers instance
func NewHandlers(reports *services.ReportService, users *services.UserService, searcher Searcher, defaultRadius, maxRadius float64) *Handlers {
	return &Handlers{
		reports:       reports,
		users:         users,
		searcher:      searcher,
		defaultRadius: defaultRadius,
		maxRadius:     maxRadius,
	}
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, models.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "permission denied"})
	case errors.Is(err, models.ErrMutationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrQueryFailed):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "query failed"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

type publishRequest struct {
	Category  string  `form:"category" json:"category" binding:"required"`
	Title     string  `form:"title" json:"title" binding:"required"`
	Content   string  `form:"content" json:"content"`
	Latitude  float64 `form:"latitude" json:"latitude"`
	Longitude float64 `form:"longitude" json:"longitude"`
}

// CreateReport handles report publishing. Media is attached as multipart
// files under the "media" field.
func (h *Handlers) CreateReport(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req publishRequest
	var uploads []media.Upload

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		for _, fh := range form.File["media"] {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable attachment"})
				return
			}
			defer f.Close()
			uploads = append(uploads, media.Upload{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Reader:      f,
			})
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	report, err := h.reports.Publish(c.Request.Context(), userID, services.PublishInput{
		Category: models.Category(req.Category),
		Title:    req.Title,
		Content:  req.Content,
		Location: models.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
		Media:    uploads,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, report)
}

// GetReport returns a single report.
func (h *Handlers) GetReport(c *gin.Context) {
	report, err := h.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// UpdateReport handles owner edits of title, content and category.
func (h *Handlers) UpdateReport(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var patch models.ReportPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	report, err := h.reports.Edit(c.Request.Context(), userID, c.Param("id"), patch)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteReport handles owner deletion.
func (h *Handlers) DeleteReport(c *gin.Context) {
	userID := middleware.GetUserID(c)

	if err := h.reports.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "report deleted successfully"})
}

type voteRequest struct {
	Direction string `json:"direction" binding:"required"`
}

// VoteReport toggles the caller's vote on a report.
func (h *Handlers) VoteReport(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	var direction feed.VoteDirection
	switch req.Direction {
	case "up":
		direction = feed.VoteUp
	case "down":
		direction = feed.VoteDown
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "direction must be up or down"})
		return
	}

	report, err := h.reports.Vote(c.Request.Context(), userID, c.Param("id"), direction)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreateComment appends a comment to a report.
func (h *Handlers) CreateComment(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	comment, err := h.reports.Comment(c.Request.Context(), userID, c.Param("id"), req.Content)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// ListComments returns a report's comments in ascending time order.
func (h *Handlers) ListComments(c *gin.Context) {
	comments, err := h.reports.Comments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments, "count": len(comments)})
}

func (h *Handlers) feedQuery(c *gin.Context) (models.FeedQuery, bool) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat is required"})
		return models.FeedQuery{}, false
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lon is required"})
		return models.FeedQuery{}, false
	}

	radius := h.defaultRadius
	if raw := c.Query("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid radius"})
			return models.FeedQuery{}, false
		}
	}
	if radius > h.maxRadius {
		radius = h.maxRadius
	}

	return models.FeedQuery{
		Center:       models.Coordinate{Latitude: lat, Longitude: lon},
		RadiusMeters: radius,
		Category:     models.Category(c.Query("category")),
	}, true
}

// Feed returns reports near the given point with display enrichment.
func (h *Handlers) Feed(c *gin.Context) {
	query, ok := h.feedQuery(c)
	if !ok {
		return
	}

	entries, err := h.reports.Feed(c.Request.Context(), query)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// FeedGeoJSON returns the feed as a GeoJSON feature collection for map views.
func (h *Handlers) FeedGeoJSON(c *gin.Context) {
	query, ok := h.feedQuery(c)
	if !ok {
		return
	}

	fc, err := h.reports.FeedGeoJSON(c.Request.Context(), query)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, fc)
}

// Search runs a full-text query over report titles and bodies.
func (h *Handlers) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "q is required"})
		return
	}
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "search not configured"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	results, err := h.searcher.Search(q, models.Category(c.Query("category")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// GetProfile returns the caller's profile.
func (h *Handlers) GetProfile(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile upserts the caller's profile.
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var user models.User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	user.ID = middleware.GetUserID(c)

	if err := h.users.Save(c.Request.Context(), user); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "profile updated"})
}

// StartVerification sends a phone verification code to the caller.
func (h *Handlers) StartVerification(c *gin.Context) {
	if err := h.users.StartPhoneVerification(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "verification started"})
}

type checkVerificationRequest struct {
	Code string `json:"code" binding:"required"`
}

// CheckVerification checks the submitted code and marks the phone verified.
func (h *Handlers) CheckVerification(c *gin.Context) {
	var req checkVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ok, err := h.users.CheckPhoneVerification(c.Request.Context(), middleware.GetUserID(c), req.Code)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "wrong code"})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "phone verified"})
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "seraph"})
}
