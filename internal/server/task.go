package server

import (
	"flag"

	"github.com/dmitrijs2005/mediasync/internal/flagx"
)

// Process modes.
const (
	ModeServe  = "serve"
	ModeUpload = "upload"
	ModeSync   = "sync"
	ModeCheck  = "check"
)

// Modes lists every mode accepted on the command line.
var Modes = []string{ModeServe, ModeUpload, ModeSync, ModeCheck}

// Task holds the arguments of the one-shot modes.
type Task struct {
	Source  string
	Account string
	Owner   string
	Folder  string
	Title   string
	Name    string
}

// ParseTask reads the one-shot mode flags from args. Flags that belong to
// the server config are skipped.
//
//	-src string      file to upload
//	-account string  account id (sync without it covers every active account)
//	-owner string    owner whose default account is used when -account is empty
//	-folder string   target folder id
//	-title string    human readable title the upload name is derived from
//	-name string     explicit upload name
func ParseTask(args []string) Task {
	args = flagx.FilterArgs(args, []string{"-src", "-account", "-owner", "-folder", "-title", "-name"})

	var t Task
	fs := flag.NewFlagSet("task", flag.ContinueOnError)
	fs.StringVar(&t.Source, "src", "", "file to upload")
	fs.StringVar(&t.Account, "account", "", "account id")
	fs.StringVar(&t.Owner, "owner", "", "owner id")
	fs.StringVar(&t.Folder, "folder", "", "target folder id")
	fs.StringVar(&t.Title, "title", "", "upload title")
	fs.StringVar(&t.Name, "name", "", "explicit upload name")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
	return t
}
