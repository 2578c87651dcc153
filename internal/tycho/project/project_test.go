package project

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stevencox/tycho/internal/tycho/model"
	"github.com/stevencox/tycho/internal/tycho/render"
)

func testEngine() *render.Engine {
	return render.NewEngine([]string{"../../../templates"})
}

func baseSystem() *model.System {
	return &model.System{
		SystemName:     "myapp",
		Identifier:     "guid123",
		Name:           "myapp-guid123",
		Namespace:      "default",
		ServiceAccount: "default",
		Principal:      model.Principal{Username: "alice"},
		Containers: []*model.Container{
			{
				Name:            "web",
				Image:           "nginx:latest",
				Command:         []string{"nginx", "-g", "daemon off;"},
				Env:             []model.KV{{Key: "MODE", Value: "production"}},
				Ports:           []int32{80},
				Requests:        model.Resources{CPUs: "1", Memory: "512Mi"},
				Limits:          model.Resources{CPUs: "2", Memory: "1Gi"},
				SecurityContext: &model.SecurityContext{RunAsUser: 1000, FSGroup: 100},
			},
		},
		Services: map[string]*model.ServiceExposure{
			"web": {Port: 8080, Name: "web-guid123", NameNoID: "web"},
		},
		ServiceOrder: []string{"web"},
	}
}

var _ = Describe("Project", func() {
	var engine *render.Engine

	BeforeEach(func() {
		engine = testEngine()
	})

	It("renders a deployment with container fields, resources, and security context", func() {
		system := baseSystem()
		set, err := Project(engine, system, Options{AppID: "web"})
		Expect(err).NotTo(HaveOccurred())

		Expect(set.Deployment["kind"]).To(Equal("Deployment"))
		meta := set.Deployment["metadata"].(map[string]interface{})
		Expect(meta["name"]).To(Equal("myapp-guid123"))
		labels := meta["labels"].(map[string]interface{})
		Expect(labels["app_id"]).To(Equal("web"))

		spec := set.Deployment["spec"].(map[string]interface{})
		template := spec["template"].(map[string]interface{})
		podSpec := template["spec"].(map[string]interface{})
		containers := podSpec["containers"].([]interface{})
		Expect(containers).To(HaveLen(1))

		container := containers[0].(map[string]interface{})
		Expect(container["image"]).To(Equal("nginx:latest"))

		resources := container["resources"].(map[string]interface{})
		limits := resources["limits"].(map[string]interface{})
		Expect(limits["cpu"]).To(Equal("2"))
		requests := resources["requests"].(map[string]interface{})
		Expect(requests["memory"]).To(Equal("512Mi"))

		sc := container["securityContext"].(map[string]interface{})
		Expect(sc["runAsUser"]).To(Equal(1000))

		podSC := podSpec["securityContext"].(map[string]interface{})
		Expect(podSC["fsGroup"]).To(Equal(100))
	})

	It("skips PVC/PV manifests for well-known pre-provisioned shared volumes", func() {
		system := baseSystem()
		system.Containers[0].Volumes = []model.VolumeRef{"pvc://nfs/home:/home/user"}
		system.Volumes = []model.Volume{{ContainerName: "web", PVCName: "nfs", VolumeName: "nfs", Path: "/home/user", Subpath: "home"}}

		set, err := Project(engine, system, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.PVCs).To(BeEmpty())
		Expect(set.PVs).To(BeEmpty())
	})

	It("emits one PVC/PV pair per unique non-shared volume", func() {
		system := baseSystem()
		system.Volumes = []model.Volume{
			{ContainerName: "web", PVCName: "data", VolumeName: "data", Path: "/data"},
		}

		set, err := Project(engine, system, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.PVCs).To(HaveLen(1))
		Expect(set.PVs).To(HaveLen(1))
	})

	It("only emits a NetworkPolicy when a service exposure declares clients", func() {
		system := baseSystem()
		set, err := Project(engine, system, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.NetworkPolicy).To(BeNil())

		system.Services["web"].Clients = []string{"10.0.0.1/32"}
		set, err = Project(engine, system, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.NetworkPolicy).NotTo(BeNil())
	})

	It("renders one Service document per exposed service", func() {
		system := baseSystem()
		set, err := Project(engine, system, Options{ServiceType: ServiceTypeLoadBalancer})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Services).To(HaveLen(1))
		Expect(set.Services[0]["spec"].(map[string]interface{})["type"]).To(Equal("LoadBalancer"))
	})
})
