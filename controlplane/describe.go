package controlplane

import (
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// NodeSnapshot is the slice of node state that explains evictions and OOM kills.
type NodeSnapshot struct {
	NodeName       string
	Conditions     map[string]string
	AllocatableMem string
	CapacityMem    string
	MemPressure    bool
	DiskPressure   bool
	PIDPressure    bool
	KubeletVersion string
}

func buildNodeSnapshot(node *corev1.Node) *NodeSnapshot {
	s := &NodeSnapshot{NodeName: node.Name, Conditions: map[string]string{}}
	for _, cond := range node.Status.Conditions {
		s.Conditions[string(cond.Type)] = string(cond.Status)
		switch cond.Type {
		case corev1.NodeMemoryPressure:
			s.MemPressure = cond.Status == corev1.ConditionTrue
		case corev1.NodeDiskPressure:
			s.DiskPressure = cond.Status == corev1.ConditionTrue
		case corev1.NodePIDPressure:
			s.PIDPressure = cond.Status == corev1.ConditionTrue
		}
	}
	if v := node.Status.Allocatable.Memory(); v != nil {
		s.AllocatableMem = v.String()
	}
	if v := node.Status.Capacity.Memory(); v != nil {
		s.CapacityMem = v.String()
	}
	s.KubeletVersion = node.Status.NodeInfo.KubeletVersion
	return s
}

// describePod renders a kubectl-describe style summary. The layout is relied
// on by the heuristics (Image:, Last State:, Limits: lines).
func describePod(pod *corev1.Pod, node *NodeSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name:         %s\n", pod.Name)
	fmt.Fprintf(&b, "Namespace:    %s\n", pod.Namespace)
	fmt.Fprintf(&b, "Node:         %s\n", pod.Spec.NodeName)
	fmt.Fprintf(&b, "Status:       %s\n", pod.Status.Phase)
	fmt.Fprintf(&b, "QoS Class:    %s\n", pod.Status.QOSClass)

	statuses := map[string]corev1.ContainerStatus{}
	for _, cs := range pod.Status.ContainerStatuses {
		statuses[cs.Name] = cs
	}

	b.WriteString("Containers:\n")
	for _, c := range pod.Spec.Containers {
		fmt.Fprintf(&b, "  %s:\n", c.Name)
		fmt.Fprintf(&b, "    Image:          %s\n", c.Image)
		if cs, ok := statuses[c.Name]; ok {
			writeState(&b, "State:     ", cs.State)
			writeState(&b, "Last State:", cs.LastTerminationState)
			fmt.Fprintf(&b, "    Ready:          %s\n", titleBool(cs.Ready))
			fmt.Fprintf(&b, "    Restart Count:  %d\n", cs.RestartCount)
		}
		writeResources(&b, "Limits", c.Resources.Limits)
		writeResources(&b, "Requests", c.Resources.Requests)
		if len(c.Env) > 0 {
			b.WriteString("    Environment:\n")
			for _, e := range c.Env {
				fmt.Fprintf(&b, "      %s:  %s\n", e.Name, envSource(e))
			}
		}
	}

	refs := extractConfigReferences(pod)
	if len(refs.ConfigMaps)+len(refs.Secrets) > 0 {
		b.WriteString("Config References:\n")
		fmt.Fprintf(&b, "  ConfigMaps:  %s\n", strings.Join(refs.ConfigMaps, ", "))
		fmt.Fprintf(&b, "  Secrets:     %s\n", strings.Join(refs.Secrets, ", "))
	}

	if node != nil {
		b.WriteString("Node State:\n")
		fmt.Fprintf(&b, "  MemoryPressure:  %s\n", titleBool(node.MemPressure))
		fmt.Fprintf(&b, "  DiskPressure:    %s\n", titleBool(node.DiskPressure))
		fmt.Fprintf(&b, "  PIDPressure:     %s\n", titleBool(node.PIDPressure))
		fmt.Fprintf(&b, "  Allocatable Memory:  %s\n", node.AllocatableMem)
	}
	return b.String()
}

func writeState(b *strings.Builder, label string, st corev1.ContainerState) {
	switch {
	case st.Waiting != nil:
		fmt.Fprintf(b, "    %s     Waiting\n", label)
		fmt.Fprintf(b, "      Reason:       %s\n", st.Waiting.Reason)
		if st.Waiting.Message != "" {
			fmt.Fprintf(b, "      Message:      %s\n", st.Waiting.Message)
		}
	case st.Terminated != nil:
		fmt.Fprintf(b, "    %s     Terminated\n", label)
		fmt.Fprintf(b, "      Reason:       %s\n", st.Terminated.Reason)
		fmt.Fprintf(b, "      Exit Code:    %d\n", st.Terminated.ExitCode)
	case st.Running != nil:
		fmt.Fprintf(b, "    %s     Running\n", label)
	}
}

func writeResources(b *strings.Builder, label string, list corev1.ResourceList) {
	if len(list) == 0 {
		return
	}
	names := make([]string, 0, len(list))
	for n := range list {
		names = append(names, string(n))
	}
	sort.Strings(names)
	fmt.Fprintf(b, "    %s:\n", label)
	for _, n := range names {
		q := list[corev1.ResourceName(n)]
		fmt.Fprintf(b, "      %s:  %s\n", n, q.String())
	}
}

func envSource(e corev1.EnvVar) string {
	if e.ValueFrom == nil {
		return e.Value
	}
	if r := e.ValueFrom.ConfigMapKeyRef; r != nil {
		return fmt.Sprintf("<set to the key '%s' of config map '%s'>", r.Key, r.Name)
	}
	if r := e.ValueFrom.SecretKeyRef; r != nil {
		return fmt.Sprintf("<set to the key '%s' in secret '%s'>", r.Key, r.Name)
	}
	return "<set from field>"
}

func titleBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

type configReferences struct {
	ConfigMaps []string
	Secrets    []string
}

func extractConfigReferences(pod *corev1.Pod) configReferences {
	cmSet, secSet := map[string]bool{}, map[string]bool{}
	for _, c := range pod.Spec.Containers {
		for _, ef := range c.EnvFrom {
			if ef.ConfigMapRef != nil {
				cmSet[ef.ConfigMapRef.Name] = true
			}
			if ef.SecretRef != nil {
				secSet[ef.SecretRef.Name] = true
			}
		}
		for _, env := range c.Env {
			if env.ValueFrom != nil {
				if env.ValueFrom.ConfigMapKeyRef != nil {
					cmSet[env.ValueFrom.ConfigMapKeyRef.Name] = true
				}
				if env.ValueFrom.SecretKeyRef != nil {
					secSet[env.ValueFrom.SecretKeyRef.Name] = true
				}
			}
		}
	}
	for _, vol := range pod.Spec.Volumes {
		if vol.ConfigMap != nil {
			cmSet[vol.ConfigMap.Name] = true
		}
		if vol.Secret != nil {
			secSet[vol.Secret.SecretName] = true
		}
	}
	return configReferences{ConfigMaps: sortedKeys(cmSet), Secrets: sortedKeys(secSet)}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatEvents(events []corev1.Event) string {
	if len(events) == 0 {
		return "No events found."
	}
	var b strings.Builder
	b.WriteString("LAST SEEN\tTYPE\tREASON\tMESSAGE\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", e.LastTimestamp.UTC().Format("2006-01-02T15:04:05Z"), e.Type, e.Reason, e.Message)
	}
	return b.String()
}
