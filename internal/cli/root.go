package cli

import (
	"context"
	"fmt"
	"strings"
)

func (a *App) prompt() string {
	status := a.engine.Status()
	mode := "offline"
	if status.IsOnline {
		mode = "online"
	}
	who := ""
	if a.auth.LoggedIn() {
		who = a.auth.Role() + " "
	}
	return fmt.Sprintf("medtrack (%s%s)> ", who, mode)
}

// Root is the REPL loop.
func (a *App) Root(ctx context.Context) {
	fmt.Println("medtrack CLI (type 'help' for commands)")

	for {
		fmt.Print(a.prompt())
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			a.printHelp()
		case "login":
			a.cmdLogin(ctx)
		case "logout":
			a.cmdLogout(ctx)
		case "meds":
			a.cmdListMedications(ctx)
		case "addmed":
			a.cmdAddMedication(ctx)
		case "delmed":
			a.cmdDeleteMedication(ctx, args)
		case "sched":
			a.cmdListAdministrations(ctx)
		case "addsched":
			a.cmdAddAdministration(ctx)
		case "take":
			a.cmdTake(ctx, args)
		case "tips":
			a.cmdListTips(ctx)
		case "addtip":
			a.cmdAddTip(ctx)
		case "faqs":
			a.cmdListFAQs(ctx)
		case "inter":
			a.cmdListInteractions(ctx)
		case "sync":
			a.engine.RequestSync()
			fmt.Println("sync requested")
		case "status":
			a.cmdStatus()
		case "exit", "quit":
			return
		default:
			fmt.Printf("unknown command %q; type 'help'\n", cmd)
		}
	}
}

func (a *App) printHelp() {
	fmt.Println(`Commands:
  login / logout        manage the session
  meds / addmed / delmed <uuid>
  sched / addsched / take <uuid>
  tips / addtip
  faqs
  inter
  sync                  request a sync pass
  status                show sync status
  exit`)
}
