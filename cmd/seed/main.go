package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai-influencer/pkg/config"
	"ai-influencer/pkg/database"
	"ai-influencer/pkg/jwt"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/models"
	"ai-influencer/pkg/s3"

	"gorm.io/gorm"
)

func main() {
	var (
		handle      string
		uploadMedia bool
	)
	flag.StringVar(&handle, "handle", "ava.travels", "Handle of the demo persona")
	flag.BoolVar(&uploadMedia, "upload-media", false, "Fetch a placeholder image and upload it to S3")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New()
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Error("Failed to connect to database: %v", err)
		panic(err)
	}

	var s3Client *s3.Client
	if uploadMedia {
		s3Client, err = s3.NewClient(cfg)
		if err != nil {
			log.Error("Failed to create S3 client: %v", err)
			panic(err)
		}
	}

	if err := seedDatabase(db, s3Client, handle, log); err != nil {
		log.Error("Failed to seed database: %v", err)
		panic(err)
	}

	token, err := jwt.NewService(cfg.JWTSecret).GenerateToken("seed-operator", jwt.RoleOperator)
	if err != nil {
		log.Error("Failed to issue operator token: %v", err)
		panic(err)
	}
	log.Info("Operator token: %s", token)
	log.Info("Database seeded successfully!")
}

func seedDatabase(db *gorm.DB, s3Client *s3.Client, handle string, log *logger.Logger) error {
	persona := &models.Persona{}
	result := db.Where("handle = ?", handle).First(persona)
	if result.Error == nil {
		log.Info("Persona %s already exists, skipping", handle)
		return nil
	}

	persona = &models.Persona{
		Name:     "Ava",
		Handle:   handle,
		Timezone: "America/New_York",
		IsActive: true,
	}
	if err := db.Create(persona).Error; err != nil {
		return fmt.Errorf("failed to create persona: %w", err)
	}
	log.Info("Created persona: %s (%s)", persona.Name, persona.ID)

	accounts := []struct {
		platform  string
		connected bool
	}{
		{"twitter", true},
		{"instagram", true},
		{"tiktok", false},
		{"fanvue", true},
	}
	for _, a := range accounts {
		account := &models.PlatformAccount{
			PersonaID:   persona.ID,
			Platform:    a.platform,
			Username:    handle,
			Credentials: map[string]string{"token": "dev-" + a.platform},
			IsConnected: a.connected,
			Timezone:    persona.Timezone,
		}
		if err := db.Create(account).Error; err != nil {
			log.Error("Failed to create %s account: %v", a.platform, err)
			continue
		}
		log.Info("Created %s account %s (connected=%t)", a.platform, account.ID, a.connected)
	}

	imageURL := "seed/ava_beach.jpg"
	if s3Client != nil {
		uploaded, err := uploadPlaceholderImage(s3Client, persona.ID, log)
		if err != nil {
			log.Error("Failed to upload placeholder image, using a local path: %v", err)
		} else {
			imageURL = uploaded
		}
	}

	now := time.Now().UTC()
	later := now.Add(2 * time.Hour)
	content := []*models.Content{
		{
			PersonaID:   persona.ID,
			ContentType: models.ContentTypePost,
			Caption:     "Sunrise over the bay",
			Hashtags:    []string{"#travel", "#sunrise"},
			ImageURLs:   []string{imageURL},
			Status:      models.StatusScheduled,
		},
		{
			PersonaID:    persona.ID,
			ContentType:  models.ContentTypeStory,
			Caption:      "Packing for the next trip",
			ImageURLs:    []string{imageURL},
			Status:       models.StatusScheduled,
			ScheduledFor: &later,
		},
		{
			PersonaID:   persona.ID,
			ContentType: models.ContentTypePost,
			Caption:     "Draft waiting for review",
			ImageURLs:   []string{imageURL},
			Status:      models.StatusPendingReview,
		},
	}
	for _, c := range content {
		c.PostedPlatforms = []string{}
		if err := db.Create(c).Error; err != nil {
			log.Error("Failed to create content %q: %v", c.Caption, err)
			continue
		}
		log.Info("Created %s content %s (%s)", c.ContentType, c.ID, c.Status)
	}

	return nil
}

func uploadPlaceholderImage(s3Client *s3.Client, personaID string, log *logger.Logger) (string, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	sourceURL := "https://picsum.photos/1080/1350"
	log.Info("Fetching placeholder image from %s", sourceURL)
	resp, err := httpClient.Get(sourceURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image source returned status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image data: %w", err)
	}
	if len(imageData) == 0 {
		return "", fmt.Errorf("received empty image data")
	}

	fileKey := fmt.Sprintf("personas/%s/seed_%d.jpg", personaID, time.Now().Unix())
	log.Info("Uploading image to S3: %s", fileKey)
	url, err := s3Client.UploadFile(fileKey, bytes.NewReader(imageData), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("failed to upload image to S3: %w", err)
	}

	log.Info("Image uploaded successfully: %s", url)
	return url, nil
}
