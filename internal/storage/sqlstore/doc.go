// Package sqlstore implements storage.Store on top of gorm, with MySQL for
// production and SQLite for local runs and tests.
//
// Tables are regions, infrastructure_projects, project_changes and a cache
// table holding the rotation cursor.
package sqlstore
