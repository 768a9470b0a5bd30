// Package api provides REST API handlers for ChainSight
// @title ChainSight API
// @version 1.0
// @description REST API for point-in-time queries against the ChainSight index
// @contact.name API Support
// @contact.url https://github.com/dextrack/chainsight
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
