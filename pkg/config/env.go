package config

import "strings"

// envKeys maps "backup.s3.bucket" to HOPPER_BACKUP_S3_BUCKET.
var envKeys = strings.NewReplacer(".", "_")
