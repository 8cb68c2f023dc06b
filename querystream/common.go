package querystream

import (
	"errors"
)

var ErrNilDatabaseConnection = errors.New("nil database connection supplied")
var ErrEmptyTableName = errors.New("empty table name supplied")
var ErrEmptyNotifyChannel = errors.New("empty notify channel supplied")
var ErrEmptyListenerDSN = errors.New("empty listener dsn supplied")
var ErrEngineNotStarted = errors.New("engine is not started")
var ErrEngineAlreadyStarted = errors.New("engine is already started")
var ErrEngineClosed = errors.New("engine is closed")
var ErrBuildingQueryFailed = errors.New("building database query failed")
var ErrExecutingQueryFailed = errors.New("executing database query failed")
var ErrScanningRowFailed = errors.New("scanning database row failed")
var ErrListenFailed = errors.New("listening for change notifications failed")
var ErrInvalidPollInterval = errors.New("invalid poll interval supplied")
