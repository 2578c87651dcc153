package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func formatName(name string) string {
	return strings.ReplaceAll(name, string(os.PathSeparator), "-")
}

func printResult(result map[string]interface{}) {
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

func newUpCmd(serviceURL *string) *cobra.Command {
	var name, file, container, command string
	var port int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Launch a system from a compose file or a single container",
		RunE: func(cmd *cobra.Command, args []string) error {
			var systemText string
			resolvedName := name

			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				systemText = string(data)
				if resolvedName == "" {
					resolvedName = strings.SplitN(file, ".", 2)[0]
				}
			} else {
				doc := map[string]interface{}{
					"version": "3",
					"services": map[string]interface{}{
						name: singleContainerService(container, command, port),
					},
				}
				rendered, err := yaml.Marshal(doc)
				if err != nil {
					return err
				}
				systemText = string(rendered)
			}

			client := newAPIClient(*serviceURL)
			result, err := client.start(map[string]interface{}{
				"name":        formatName(resolvedName),
				"system_yaml": systemText,
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Service name")
	cmd.Flags().StringVarP(&file, "file", "f", "", "A docker-compose (subset) formatted system spec")
	cmd.Flags().StringVarP(&container, "container", "c", "", "Container image to run")
	cmd.Flags().StringVar(&command, "command", "", "Container entrypoint")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to expose")
	return cmd
}

func singleContainerService(image, command string, port int) map[string]interface{} {
	svc := map[string]interface{}{"image": image}
	if command != "" {
		svc["entrypoint"] = command
	}
	if port != 0 {
		svc["ports"] = []string{fmt.Sprintf("%d", port)}
	}
	return svc
}

func newDownCmd(serviceURL *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Delete a running system",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(*serviceURL)
			result, err := client.delete(formatName(name))
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "System guid to delete")
	return cmd
}

func newStatusCmd(serviceURL *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query running systems, optionally filtered by guid",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(*serviceURL)
			result, err := client.status(name)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "System guid; omit for all")
	return cmd
}

func newModifyCmd(serviceURL *string) *cobra.Command {
	var guid string
	var replicas int32

	cmd := &cobra.Command{
		Use:   "modify",
		Short: "Change replica count on a running system",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{"guid": guid}
			if replicas > 0 {
				req["replicas"] = replicas
			}
			client := newAPIClient(*serviceURL)
			result, err := client.modify(req)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&guid, "guid", "g", "", "System guid to modify")
	cmd.Flags().Int32VarP(&replicas, "replicas", "r", 0, "New replica count")
	return cmd
}
