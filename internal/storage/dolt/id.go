package dolt

import "github.com/google/uuid"

func newEntityID() string { return uuid.NewString() }
