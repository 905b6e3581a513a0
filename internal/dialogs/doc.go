// Package dialogs loads the sentences a component speaks.
//
// Dialog files live under <folder>/<language>/<key>.dialog with one
// sentence per line. Get picks one sentence of a key at random and, when
// data is given, renders it as a text/template:
//
//	It is {{ .temperature }} degrees outside
//
// Watch reloads the folder when files change on disk.
package dialogs
