package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/shardbroker/pkg/client"
	"github.com/cuemby/shardbroker/pkg/framer"
)

// aclCmd reloads a local-mgmt broker's ACL table from its conf.ini
// (spec.md §4.8 BR_ACL_RELOAD). It's a thin top-level alias for the same
// call `broker reload` makes, matching spec.md §6's standalone "acl" noun.
var aclCmd = &cobra.Command{
	Use:   "acl",
	Short: "reload a local-mgmt broker's ACL table",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.New(addr)
		resp, err := c.Call(framer.OpACLReload, framer.NewArgWriter())
		if err != nil {
			return err
		}
		if resp.Code != framer.OK {
			return fmt.Errorf("acl: BR_ACL_RELOAD rejected: %s", resp.Code)
		}
		fmt.Println("acl reloaded")
		return nil
	},
}

func init() {
	aclCmd.Flags().String("addr", "", "local-mgmt broker TCP address (host:port)")
}
