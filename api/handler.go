package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"mediagenapi/config"
	"mediagenapi/generate"
	"mediagenapi/job"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type Handler struct {
	svc   *generate.Service
	jobs  *job.Registry
	cfg   *config.Config
	store *config.Store
}

func NewHandler(svc *generate.Service, jobs *job.Registry, cfg *config.Config, store *config.Store) *Handler {
	return &Handler{svc: svc, jobs: jobs, cfg: cfg, store: store}
}

// readUpload reads one uploaded file, enforcing the size limit and an
// expected content-type prefix ("image/", "video/").
func (h *Handler) readUpload(fh *multipart.FileHeader, typePrefix string) ([]byte, error) {
	if h.cfg.MaxUploadSize > 0 && fh.Size > h.cfg.MaxUploadSize {
		return nil, fmt.Errorf("file %s exceeds the %d byte upload limit", fh.Filename, h.cfg.MaxUploadSize)
	}
	if typePrefix != "" {
		contentType := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, typePrefix) {
			return nil, fmt.Errorf("file %s must be of type %s*", fh.Filename, typePrefix)
		}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file %s is empty", fh.Filename)
	}
	return data, nil
}

func jobAccepted(c *gin.Context, j *job.Job) {
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     j.ID,
		"status":     j.Status,
		"message":    j.Message,
		"created_at": j.CreatedAt,
	})
}

// handleGenerateImage accepts a prompt plus up to four reference images and
// schedules an image generation job.
func (h *Handler) handleGenerateImage(c *gin.Context) {
	prompt := strings.TrimSpace(c.PostForm("prompt"))
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	aspectRatio := c.DefaultPostForm("aspect_ratio", "auto")

	var refs [][]byte
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, fh := range form.File["reference_images"] {
			data, err := h.readUpload(fh, "image/")
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			refs = append(refs, data)
		}
	}

	j, err := h.svc.GenerateImage(generate.ImageRequest{Prompt: prompt, AspectRatio: aspectRatio}, refs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		return
	}
	jobAccepted(c, j)
}

// handleGenerateVideo accepts a start image plus either an optional end image
// or an optional driving video.
func (h *Handler) handleGenerateVideo(c *gin.Context) {
	imageFH, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	startImage, err := h.readUpload(imageFH, "image/")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var endImage, drivingVideo []byte
	if fh, err := c.FormFile("end_image"); err == nil {
		if endImage, err = h.readUpload(fh, "image/"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if fh, err := c.FormFile("driving_video"); err == nil {
		if drivingVideo, err = h.readUpload(fh, "video/"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if len(endImage) > 0 && len(drivingVideo) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide either end_image or driving_video, not both"})
		return
	}

	aspectRatio := c.DefaultPostForm("aspect_ratio", "16:9")
	if aspectRatio != "16:9" && aspectRatio != "9:16" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "aspect_ratio must be 16:9 or 9:16"})
		return
	}

	req := generate.VideoRequest{
		Prompt:      c.PostForm("prompt"),
		AspectRatio: aspectRatio,
		Motion:      c.PostForm("motion"),
	}
	j, err := h.svc.GenerateVideo(req, startImage, endImage, drivingVideo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		return
	}
	jobAccepted(c, j)
}

var validVoices = map[generate.VoiceType]bool{
	generate.VoiceFemaleYoung:  true,
	generate.VoiceFemaleMature: true,
	generate.VoiceFemaleSoft:   true,
	generate.VoiceMaleYoung:    true,
	generate.VoiceMaleDeep:     true,
}

// handleGenerateSpeech accepts a source video and the text to speak.
func (h *Handler) handleGenerateSpeech(c *gin.Context) {
	videoFH, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video file required"})
		return
	}
	video, err := h.readUpload(videoFH, "video/")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	text := strings.TrimSpace(c.PostForm("text"))
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	voice := generate.VoiceType(c.DefaultPostForm("voice_type", string(generate.DefaultVoice)))
	if !validVoices[voice] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown voice_type %q", voice)})
		return
	}

	req := generate.SpeechRequest{
		Text:     text,
		Voice:    voice,
		Language: c.DefaultPostForm("language", "en"),
	}
	j, err := h.svc.GenerateSpeech(req, video)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
		return
	}
	jobAccepted(c, j)
}

// statusFor returns the status handler for one media kind; querying a job of
// another kind is rejected.
func (h *Handler) statusFor(kind job.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, found := h.jobs.Get(c.Param("jobId"))
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		if j.Kind != kind {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Not a %s job", kind)})
			return
		}
		c.JSON(http.StatusOK, j)
	}
}

func (h *Handler) historyFor(kind job.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit < 1 {
			limit = 20
		}
		jobs := h.jobs.List(kind)
		if len(jobs) > limit {
			jobs = jobs[:limit]
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func (h *Handler) handleGetJob(c *gin.Context) {
	j, found := h.jobs.Get(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *Handler) handleListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	jobs := h.jobs.List("")
	total := len(jobs)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "jobs": jobs})
}

func maskKey(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// handleGetSettings reports stored settings with credentials masked, plus the
// effective call-time configuration.
func (h *Handler) handleGetSettings(c *gin.Context) {
	data := h.store.Load()
	res := h.svc.Resolver()
	c.JSON(http.StatusOK, gin.H{
		"replicateKey":       maskKey(data["replicateKey"]),
		"imageModel":         data["imageModel"],
		"videoModel":         data["videoModel"],
		"videoFallbackModel": data["videoFallbackModel"],
		"lipsyncProvider":    data["lipsyncProvider"],
		"elevenLabsKey":      maskKey(data["elevenLabsKey"]),
		"syncLabsKey":        maskKey(data["syncLabsKey"]),
		"didKey":             maskKey(data["didKey"]),
		"effective": gin.H{
			"replicateTokenConfigured": res.ReplicateToken() != "",
			"imageModel":               res.ImageModel(),
			"videoModel":               res.VideoModel(),
			"lipsyncProvider":          res.LipsyncProvider(),
		},
	})
}

func (h *Handler) handleSaveSettings(c *gin.Context) {
	var payload map[string]string
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Save(payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings", "details": err.Error()})
		return
	}
	saved := make([]string, 0, len(payload))
	for k := range payload {
		saved = append(saved, k)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "saved": saved})
}

// handleHealth reports service liveness and host resource headroom.
func (h *Handler) handleHealth(c *gin.Context) {
	resources := gin.H{}
	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		resources["cpu_percent"] = p[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resources["mem_available"] = vm.Available
	}
	if d, err := disk.Usage(h.cfg.StoragePath); err == nil {
		resources["disk_free"] = d.Free
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"storage":   h.cfg.StoragePath,
		"resources": resources,
	})
}
