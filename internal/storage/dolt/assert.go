package dolt

import "github.com/syncmesh/syncmesh/internal/storage"

var _ storage.Store = (*Store)(nil)
