package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"campsite.sim/internal/persistence/r2s3"
)

// openMirror builds the off-site mirror from CAMP_R2_* env. It returns nil
// when CAMP_R2_MIRROR is off.
func openMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("CAMP_R2_MIRROR", false) {
		return nil, nil
	}
	cfg := r2s3.Config{
		Endpoint:        os.Getenv("CAMP_R2_ENDPOINT"),
		Bucket:          os.Getenv("CAMP_R2_BUCKET"),
		Region:          strings.TrimSpace(os.Getenv("CAMP_R2_REGION")),
		AccessKeyID:     os.Getenv("CAMP_R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("CAMP_R2_SECRET_ACCESS_KEY"),
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("CAMP_R2_MIRROR=true: %w", err)
	}
	opts := r2s3.MirrorOptions{
		Workers:       envInt("CAMP_R2_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("CAMP_R2_QUEUE", 256),
	}
	return r2s3.NewMirror(client, dataDir, os.Getenv("CAMP_R2_PREFIX"), opts, logger), nil
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
